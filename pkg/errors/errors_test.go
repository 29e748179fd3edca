package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "SaveCheckpoint",
			kind:    "encode failed",
			err:     fmt.Errorf("disk full"),
			wantMsg: "haspeede: SaveCheckpoint: encode failed: disk full",
		},
		{
			name:    "without original error",
			op:      "Forward",
			kind:    "empty batch",
			wantMsg: "haspeede: Forward: empty batch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
			if tt.err != nil && !Is(err, tt.err) {
				t.Error("ModelError should unwrap to the original error")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	tests := []struct {
		axis int
		want string
	}{
		{0, "haspeede: CrossEntropy: dimension mismatch on axis 0 (batch). Expected 4, got 3"},
		{1, "haspeede: CrossEntropy: dimension mismatch on axis 1 (positions). Expected 4, got 3"},
	}
	for _, tt := range tests {
		err := NewDimensionError("CrossEntropy", 4, 3, tt.axis)
		if err.Error() != tt.want {
			t.Errorf("Error() = %v, want %v", err.Error(), tt.want)
		}
		var dimErr *DimensionError
		if !As(err, &dimErr) {
			t.Fatal("Error should be castable to *DimensionError")
		}
		if dimErr.Expected != 4 || dimErr.Got != 3 {
			t.Errorf("unexpected fields %+v", dimErr)
		}
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("SequenceClassifier", "Predict")
	want := "haspeede: SequenceClassifier: model is not trained yet. Fit it or load a checkpoint before calling Predict()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("mode", "must be one of min, max", "avg")
	want := "haspeede: invalid configuration for 'mode': must be one of min, max (got: avg)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	var valErr *ValidationError
	if !As(err, &valErr) {
		t.Fatal("Error should be castable to *ValidationError")
	}
	if valErr.ParamName != "mode" {
		t.Errorf("ParamName = %q", valErr.ParamName)
	}
}

func TestCellErrorUnwrap(t *testing.T) {
	cause := NewValueError("Forward", "bad ids")
	err := NewCellError(3, 42, 32, 0.5, cause)

	var cellErr *CellError
	if !As(err, &cellErr) {
		t.Fatal("Error should be castable to *CellError")
	}
	if cellErr.Index != 3 || cellErr.Seed != 42 || cellErr.BatchSize != 32 {
		t.Errorf("unexpected fields %+v", cellErr)
	}
	var valueErr *ValueError
	if !As(err, &valueErr) {
		t.Error("CellError should unwrap to the cause")
	}
	if !strings.Contains(err.Error(), "seed=42 batch_size=32 dropout=0.5") {
		t.Errorf("Error() = %v", err.Error())
	}
}

func TestMarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	valErr := &ValidationError{ParamName: "patience", Reason: "must be >= 0", Value: -1}
	logger.Error().EmbedObject(valErr).Msg("config")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["param_name"] != "patience" || entry["type"] != "ValidationError" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestWarnRoutesToZerolog(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("precision", 1, "no predicted samples", 0))
	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	if !strings.Contains(got[0].Error(), "'precision' is ill-defined for label 1") {
		t.Errorf("unexpected warning %v", got[0])
	}
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(New("plain warning"))
	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
}

func TestNumericalHelpers(t *testing.T) {
	if err := CheckScalar("loss", 0.7, 1); err != nil {
		t.Errorf("finite value flagged: %v", err)
	}
	err := CheckScalar("loss", math.NaN(), 4)
	var numErr *NumericalInstabilityError
	if !As(err, &numErr) || numErr.Iteration != 4 {
		t.Errorf("expected NumericalInstabilityError at step 4, got %v", err)
	}
	if err := CheckScalar("loss", math.Inf(1), 0); err == nil {
		t.Error("Inf not detected")
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"softplus zero", Softplus(0), math.Ln2},
		{"softplus large", Softplus(800), 800},
		{"softplus very negative", Softplus(-800), 0},
		{"sigmoid zero", Sigmoid(0), 0.5},
		{"sigmoid negative", Sigmoid(-800), 0},
		{"safe divide zero", SafeDivide(3, 0), 0},
		{"logsumexp", LogSumExp([]float64{0, 0}), math.Ln2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-12 {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
