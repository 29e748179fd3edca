package training

import (
	"math"
	"time"

	"github.com/YuminosukeSato/haspeede/metrics"
)

// EpochResult is the outcome of one epoch. It is not modified after being
// appended to a History.
type EpochResult struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Report    *metrics.Report
	Duration  time.Duration
}

// MacroF1 is the macro-averaged F1 of the validation report.
func (r EpochResult) MacroF1() float64 {
	if r.Report == nil {
		return 0
	}
	return r.Report.MacroAvg.F1
}

// History is the per-epoch record of one fit, in epoch order.
type History struct {
	Epochs []EpochResult
	// StoppedEarly is set when the monitor ended the fit before MaxEpochs.
	StoppedEarly bool
}

func (h *History) append(r EpochResult) {
	h.Epochs = append(h.Epochs, r)
}

// Len is the number of completed epochs.
func (h *History) Len() int {
	return len(h.Epochs)
}

// Last returns the final epoch; ok is false for an empty history.
func (h *History) Last() (r EpochResult, ok bool) {
	if len(h.Epochs) == 0 {
		return EpochResult{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// TrainLosses returns the train loss of every epoch.
func (h *History) TrainLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainLoss
	}
	return out
}

// ValLosses returns the validation loss of every epoch.
func (h *History) ValLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.ValLoss
	}
	return out
}

// MacroF1s returns the validation macro F1 of every epoch.
func (h *History) MacroF1s() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.MacroF1()
	}
	return out
}

// BestEpoch returns the epoch with the lowest finite validation loss.
func (h *History) BestEpoch() (r EpochResult, ok bool) {
	for _, e := range h.Epochs {
		if math.IsNaN(e.ValLoss) {
			continue
		}
		if !ok || e.ValLoss < r.ValLoss {
			r, ok = e, true
		}
	}
	return r, ok
}
