package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

func TestTestLoggerLevels(t *testing.T) {
	logger, buffer := NewTestLogger(LevelInfo)

	logger.Debug("per batch loss", "batch", 1)
	logger.Info("epoch finished", EpochKey, 1, TrainLossKey, 0.5)
	logger.Warn("early stopping triggered", ValLossKey, 0.7)
	logger.Error("cell failed", fmt.Errorf("boom"), CellKey, 3)

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty buffer")
	}
	if logger.ContainsMessage("per batch loss") {
		t.Error("debug record should be filtered at info level")
	}
	for _, msg := range []string{"epoch finished", "early stopping triggered", "cell failed"} {
		if !logger.ContainsMessage(msg) {
			t.Errorf("message %q not found", msg)
		}
	}
	if !logger.ContainsField(EpochKey, 1.0) {
		t.Error("epoch field not found")
	}
	if !logger.ContainsField(ErrAttrKey, "boom") {
		t.Error("leading error not captured")
	}
}

func TestTestLoggerWith(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	runLogger := logger.With(TaskKey, "it-hs", SeedKey, 42)

	runLogger.Info("epoch finished", EpochKey, 2)
	runLogger.Info("epoch finished", EpochKey, 3)

	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e[TaskKey] != "it-hs" || e[SeedKey] != 42.0 {
			t.Errorf("context fields missing in %v", e)
		}
	}
	if logger.CountMessage("epoch finished") != 2 {
		t.Error("CountMessage mismatch")
	}
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.With(CellKey, i).Info("cell finished")
		}(i)
	}
	wg.Wait()
	if logger.CountMessage("cell finished") != 8 {
		t.Errorf("expected 8 records")
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo).With(TaskKey, "de-hs")

	logger.Debug("hidden")
	logger.Info("epoch finished", EpochKey, 4, MacroF1Key, 0.61)
	logger.Error("invalid grid", errors.NewValidationError("seeds", "must not be empty", []int64{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var info map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &info); err != nil {
		t.Fatal(err)
	}
	if info["message"] != "epoch finished" || info[TaskKey] != "de-hs" || info[EpochKey] != 4.0 {
		t.Errorf("unexpected info record %v", info)
	}

	var errRec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &errRec); err != nil {
		t.Fatal(err)
	}
	if errRec["level"] != "error" {
		t.Errorf("unexpected level %v", errRec["level"])
	}
	if !logger.Enabled(context.Background(), LevelWarn) || logger.Enabled(context.Background(), LevelDebug) {
		t.Error("Enabled does not follow the configured level")
	}
}

func TestZerologWarnHook(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelDebug)
	logger.InstallWarnHook()
	defer errors.SetZerologWarnFunc(nil)

	errors.Warn(errors.NewUndefinedMetricWarning("recall", 2, "no true samples", 0))

	var rec map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if rec["type"] != "UndefinedMetricWarning" || rec["metric"] != "recall" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestErrorContextHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		fields []any
		want   map[string]interface{}
	}{
		{
			name: "plain error keeps its stacktrace",
			err:  errors.New("no checkpoint"),
			want: map[string]interface{}{},
		},
		{
			name: "cell error adds the grid cell",
			err:  errors.NewCellError(3, 1234, 16, 0.2, errors.New("out of memory")),
			want: map[string]interface{}{
				ErrorCodeKey: ErrorCellFailed,
				CellKey:      float64(3),
				SeedKey:      float64(1234),
				BatchSizeKey: float64(16),
				DropoutKey:   0.2,
			},
		},
		{
			name: "diverged loss inside a cell",
			err:  errors.NewCellError(1, 7, 8, 0.5, errors.CheckScalar("val_loss", math.NaN(), 2)),
			want: map[string]interface{}{
				ErrorCodeKey: ErrorCellFailed,
				CellKey:      float64(1),
				OperationKey: "val_loss",
				EpochKey:     float64(2),
			},
		},
		{
			name:   "record fields win",
			err:    errors.NewCellError(5, 1, 8, 0.1, errors.New("boom")),
			fields: []any{CellKey, 9},
			want:   map[string]interface{}{CellKey: float64(9), SeedKey: float64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewSlogLogger(slog.New(WrapWithErrorContext(slog.NewJSONHandler(&buf, nil))))

			logger.Error("cell failed", append([]any{tt.err}, tt.fields...)...)

			var rec map[string]interface{}
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
				t.Fatalf("invalid json %q: %v", buf.String(), err)
			}
			if rec[ErrAttrKey] == nil {
				t.Error("error attribute missing")
			}
			if s, _ := rec[StacktraceAttrKey].(string); s == "" {
				t.Error("stacktrace attribute missing")
			}
			for k, v := range tt.want {
				if rec[k] != v {
					t.Errorf("%s = %v, want %v", k, rec[k], v)
				}
			}
		})
	}
}

func TestErrorContextHandlerPanicStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(WrapWithErrorContext(slog.NewJSONHandler(&buf, nil))))

	err := &errors.PanicError{PanicValue: "index out of range", StackTrace: "goroutine 7 [running]", Operation: "Trainer.Fit"}
	logger.Error("fit failed", err)

	var rec map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatal(err)
	}
	if rec[OperationKey] != "Trainer.Fit" {
		t.Errorf("%s = %v", OperationKey, rec[OperationKey])
	}
	if rec[StacktraceAttrKey] != "goroutine 7 [running]" {
		t.Errorf("%s = %v", StacktraceAttrKey, rec[StacktraceAttrKey])
	}
	if _, ok := rec[ErrorCodeKey]; ok {
		t.Errorf("unexpected %s on a panic", ErrorCodeKey)
	}
}

func TestToLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ToLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ToLogLevel(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ToLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
