package training

import (
	"math"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Mode tells the monitor which direction is an improvement.
type Mode string

const (
	// Min treats lower values as better (losses).
	Min Mode = "min"
	// Max treats higher values as better (scores).
	Max Mode = "max"
)

// EarlyStopping tracks the best metric seen so far and the number of
// consecutive epochs without improvement.
type EarlyStopping struct {
	mode       Mode
	minDelta   float64
	patience   int
	percentage bool

	best      float64
	hasBest   bool
	badEpochs int
}

// EarlyStoppingOption configures an EarlyStopping.
type EarlyStoppingOption func(*EarlyStopping)

// WithMode sets the improvement direction. Default Min.
func WithMode(m Mode) EarlyStoppingOption {
	return func(es *EarlyStopping) { es.mode = m }
}

// WithMinDelta sets the minimum change that counts as an improvement.
// Default 0.
func WithMinDelta(d float64) EarlyStoppingOption {
	return func(es *EarlyStopping) { es.minDelta = d }
}

// WithPatience sets how many non-improving epochs are tolerated. 0 disables
// stopping altogether. Default 2.
func WithPatience(p int) EarlyStoppingOption {
	return func(es *EarlyStopping) { es.patience = p }
}

// WithPercentage interprets min delta as a percentage of the best value.
func WithPercentage(on bool) EarlyStoppingOption {
	return func(es *EarlyStopping) { es.percentage = on }
}

// NewEarlyStopping validates the configuration.
func NewEarlyStopping(opts ...EarlyStoppingOption) (*EarlyStopping, error) {
	es := &EarlyStopping{mode: Min, patience: 2}
	for _, o := range opts {
		o(es)
	}
	if es.mode != Min && es.mode != Max {
		return nil, errors.NewValidationError("mode", "must be min or max", string(es.mode))
	}
	if es.patience < 0 {
		return nil, errors.NewValidationError("patience", "must not be negative", es.patience)
	}
	return es, nil
}

// PatienceFor is the patience used by a full fit: 10% of maxEpochs, rounded
// down.
func PatienceFor(maxEpochs int) int {
	return maxEpochs / 10
}

// Step feeds the latest metric and reports whether training should stop.
//
// The first value becomes the best unconditionally. After that a NaN stops
// immediately; an improvement resets the bad-epoch counter and anything else
// increments it. Patience 0 never stops and records nothing.
func (es *EarlyStopping) Step(metric float64) bool {
	if es.patience == 0 {
		return false
	}
	if !es.hasBest {
		es.best = metric
		es.hasBest = true
		return false
	}
	if math.IsNaN(metric) {
		return true
	}
	if es.isBetter(metric, es.best) {
		es.badEpochs = 0
		es.best = metric
	} else {
		es.badEpochs++
	}
	return es.badEpochs >= es.patience
}

func (es *EarlyStopping) isBetter(a, best float64) bool {
	delta := es.minDelta
	if es.percentage {
		delta = best * es.minDelta / 100
	}
	if es.mode == Min {
		return a < best-delta
	}
	return a > best+delta
}

// Best returns the best metric so far; ok is false before the first Step.
func (es *EarlyStopping) Best() (best float64, ok bool) {
	return es.best, es.hasBest
}

// BadEpochs is the current count of consecutive non-improving epochs.
func (es *EarlyStopping) BadEpochs() int {
	return es.badEpochs
}

// Patience returns the configured patience.
func (es *EarlyStopping) Patience() int {
	return es.patience
}

// Mode returns the configured direction.
func (es *EarlyStopping) Mode() Mode {
	return es.mode
}

// Reset forgets the best value and the counter.
func (es *EarlyStopping) Reset() {
	es.best, es.hasBest, es.badEpochs = 0, false, 0
}
