// Package gridsearch enumerates seed × batch size × dropout configurations,
// fits one fresh model per cell and collects the final-epoch metrics.
package gridsearch

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Grid holds the candidate lists. Enumeration order is seed, then batch
// size, then dropout, each in the order given.
type Grid struct {
	Seeds      []int64   `yaml:"seeds"`
	BatchSizes []int     `yaml:"batch_sizes"`
	Dropouts   []float64 `yaml:"dropout_rates"`
}

// DefaultGrid is the search used for every setup.
func DefaultGrid() Grid {
	return Grid{
		Seeds:      []int64{42, 12321},
		BatchSizes: []int{32, 64},
		Dropouts:   []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}
}

// Validate fails on an empty candidate list or an out-of-range value.
func (g Grid) Validate() error {
	switch {
	case len(g.Seeds) == 0:
		return errors.Wrap(errors.ErrEmptyGrid, "no seeds")
	case len(g.BatchSizes) == 0:
		return errors.Wrap(errors.ErrEmptyGrid, "no batch sizes")
	case len(g.Dropouts) == 0:
		return errors.Wrap(errors.ErrEmptyGrid, "no dropout rates")
	}
	for _, b := range g.BatchSizes {
		if b <= 0 {
			return errors.NewValidationError("batch_sizes", "must be positive", b)
		}
	}
	for _, d := range g.Dropouts {
		if d < 0 || d >= 1 || math.IsNaN(d) {
			return errors.NewValidationError("dropout_rates", "must be in [0, 1)", d)
		}
	}
	return nil
}

// Size is the number of cells.
func (g Grid) Size() int {
	return len(g.Seeds) * len(g.BatchSizes) * len(g.Dropouts)
}

// Config is one cell of the grid plus the hyperparameters held fixed for the
// whole search.
type Config struct {
	Index        int
	Seed         int64
	BatchSize    int
	Dropout      float64
	LearningRate float64
	ClassWeight  float64
}

// Configs enumerates the cells in nested order.
func (g Grid) Configs(learningRate, classWeight float64) []Config {
	out := make([]Config, 0, g.Size())
	for _, s := range g.Seeds {
		for _, b := range g.BatchSizes {
			for _, d := range g.Dropouts {
				out = append(out, Config{
					Index:        len(out),
					Seed:         s,
					BatchSize:    b,
					Dropout:      d,
					LearningRate: learningRate,
					ClassWeight:  classWeight,
				})
			}
		}
	}
	return out
}

// Result is the record of one completed cell. ValLoss and MacroF1 come from
// the last epoch of the run, not the best one.
type Result struct {
	Config
	SearchID       string
	RunID          string
	ValLoss        float64
	MacroF1        float64
	MacroPrecision float64
	MacroRecall    float64
	Epochs         int
	StoppedEarly   bool
}

// Criterion selects the best row.
type Criterion int

const (
	// ByF1 picks the highest macro F1.
	ByF1 Criterion = iota
	// ByValLoss picks the lowest finite validation loss.
	ByValLoss
)

func (c Criterion) String() string {
	if c == ByValLoss {
		return "val_loss"
	}
	return "f1_score"
}

// Results is the ordered table of completed cells.
type Results struct {
	SearchID string
	rows     []Result
	failures []error
}

func (r *Results) add(row Result) {
	r.rows = append(r.rows, row)
}

// Len is the number of recorded rows.
func (r *Results) Len() int {
	return len(r.rows)
}

// Rows returns a copy of the rows in enumeration order.
func (r *Results) Rows() []Result {
	return append([]Result(nil), r.rows...)
}

// Failures returns the cell errors skipped with WithContinueOnError.
func (r *Results) Failures() []error {
	return append([]error(nil), r.failures...)
}

// Best returns the winning row for c. Ties keep the earliest cell. ok is
// false when no row qualifies.
func (r *Results) Best(c Criterion) (best Result, ok bool) {
	for _, row := range r.rows {
		switch c {
		case ByValLoss:
			if math.IsNaN(row.ValLoss) {
				continue
			}
			if !ok || row.ValLoss < best.ValLoss {
				best, ok = row, true
			}
		default:
			if !ok || row.MacroF1 > best.MacroF1 {
				best, ok = row, true
			}
		}
	}
	return best, ok
}

// Aggregate summarizes the macro F1 of the rows sharing one value of a
// hyperparameter.
type Aggregate struct {
	Value  float64
	Count  int
	MeanF1 float64
	StdF1  float64
}

// AggregateBy groups rows by key and reports mean and standard deviation of
// their macro F1, sorted by value.
func (r *Results) AggregateBy(key func(Config) float64) []Aggregate {
	groups := map[float64][]float64{}
	for _, row := range r.rows {
		k := key(row.Config)
		groups[k] = append(groups[k], row.MacroF1)
	}
	out := make([]Aggregate, 0, len(groups))
	for k, f1s := range groups {
		a := Aggregate{Value: k, Count: len(f1s)}
		if len(f1s) == 1 {
			a.MeanF1 = f1s[0]
		} else {
			a.MeanF1, a.StdF1 = stat.MeanStdDev(f1s, nil)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// ByDropout is a key for AggregateBy.
func ByDropout(c Config) float64 { return c.Dropout }

// ByBatchSize is a key for AggregateBy.
func ByBatchSize(c Config) float64 { return float64(c.BatchSize) }

// BySeed is a key for AggregateBy.
func BySeed(c Config) float64 { return float64(c.Seed) }
