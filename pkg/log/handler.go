package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	perrors "github.com/YuminosukeSato/haspeede/pkg/errors"
)

// ErrorContextHandler is a slog handler that expands the error attribute of
// a record into pipeline fields. A CellError contributes its grid cell, a
// NumericalInstabilityError the diverged loss and epoch, and a PanicError the
// goroutine stack. Other errors get the stack recorded by cockroachdb/errors.
// Fields already present on the record are left as they are.
type ErrorContextHandler struct {
	handler slog.Handler
}

// WrapWithErrorContext wraps handler.
func WrapWithErrorContext(handler slog.Handler) slog.Handler {
	return &ErrorContextHandler{handler: handler}
}

func (h *ErrorContextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h *ErrorContextHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	present := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(attr slog.Attr) bool {
		present[attr.Key] = true
		if attr.Key == ErrAttrKey {
			err, _ = attr.Value.Any().(error)
		}
		return true
	})
	if err == nil {
		return h.handler.Handle(ctx, r)
	}
	add := func(a slog.Attr) {
		if !present[a.Key] {
			present[a.Key] = true
			r.AddAttrs(a)
		}
	}
	for _, a := range errorAttrs(err) {
		add(a)
	}
	if st := extractStacktrace(err); st != "" {
		add(slog.String(StacktraceAttrKey, st))
	}
	return h.handler.Handle(ctx, r)
}

func (h *ErrorContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrorContextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *ErrorContextHandler) WithGroup(g string) slog.Handler {
	return &ErrorContextHandler{handler: h.handler.WithGroup(g)}
}

// errorAttrs collects the fields of the pipeline errors found in err's chain.
// The outermost error wins a shared key such as error.code.
func errorAttrs(err error) []slog.Attr {
	var attrs []slog.Attr
	var cell *perrors.CellError
	if perrors.As(err, &cell) {
		attrs = append(attrs,
			slog.String(ErrorCodeKey, ErrorCellFailed),
			slog.Int(CellKey, cell.Index),
			slog.Int64(SeedKey, cell.Seed),
			slog.Int(BatchSizeKey, cell.BatchSize),
			slog.Float64(DropoutKey, cell.Dropout),
		)
	}
	var num *perrors.NumericalInstabilityError
	if perrors.As(err, &num) {
		attrs = append(attrs,
			slog.String(ErrorCodeKey, ErrorDiverged),
			slog.String(OperationKey, num.Operation),
			slog.Int(EpochKey, num.Iteration),
		)
	}
	var p *perrors.PanicError
	if perrors.As(err, &p) {
		attrs = append(attrs, slog.String(OperationKey, p.Operation))
		if p.StackTrace != "" {
			attrs = append(attrs, slog.String(StacktraceAttrKey, p.StackTrace))
		}
	}
	return attrs
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
