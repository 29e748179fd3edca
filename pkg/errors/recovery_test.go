package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRecoverIndexPanic(t *testing.T) {
	forward := func(ids []int) (err error) {
		defer Recover(&err, "Encoder.Forward")
		_ = ids[len(ids)] // out of range
		return nil
	}

	err := forward([]int{1, 2, 3})
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Operation != "Encoder.Forward" {
		t.Errorf("Operation = %q", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}
	if !strings.Contains(panicErr.String(), "Stack trace:") {
		t.Error("String() should include stack trace information")
	}
}

func TestRecoverWithoutPanic(t *testing.T) {
	fn := func() (err error) {
		defer Recover(&err, "noop")
		return nil
	}
	if err := fn(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestRecoverKeepsExistingError(t *testing.T) {
	originalErr := fmt.Errorf("original error")

	fn := func() (err error) {
		defer Recover(&err, "Trainer.TrainEpoch")
		err = originalErr
		panic("panic after error")
	}

	err := fn()
	if !strings.Contains(err.Error(), "panic in Trainer.TrainEpoch") {
		t.Errorf("Error message should contain panic info: %s", err)
	}
	if !errors.Is(err, originalErr) {
		t.Error("Should be able to identify original error with errors.Is")
	}
}

func TestSafeExecute(t *testing.T) {
	tests := []struct {
		name      string
		fn        func() error
		wantPanic bool
		wantErr   bool
	}{
		{"success", func() error { return nil }, false, false},
		{"function error", func() error { return fmt.Errorf("boom") }, false, true},
		{"string panic", func() error { panic("diverged") }, true, true},
		{"int panic", func() error { panic(42) }, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeExecute("cell", tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var panicErr *PanicError
			if errors.As(err, &panicErr) != tt.wantPanic {
				t.Errorf("PanicError = %v, want %v", panicErr != nil, tt.wantPanic)
			}
		})
	}
}

func BenchmarkSafeExecuteNoPanic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = SafeExecute("bench", func() error { return nil })
	}
}
