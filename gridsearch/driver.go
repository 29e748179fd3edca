package gridsearch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/training"
)

// Split is the train and validation data prepared for one seed.
type Split struct {
	Train *dataset.Dataset
	Val   *dataset.Dataset
}

// DataFunc prepares the splits after rc has been reseeded. It runs once per
// seed.
type DataFunc func(ctx context.Context, rc *repro.Context) (*Split, error)

// ModelFactory builds a fresh model and optimizer for one cell.
type ModelFactory func(cfg Config, rc *repro.Context) (model.Module, nn.Optimizer, error)

// ResultHook observes every completed cell together with its history.
type ResultHook func(r Result, h *training.History) error

// Driver runs a grid search.
type Driver struct {
	grid            Grid
	trainer         *training.Trainer
	data            DataFunc
	factory         ModelFactory
	logger          log.Logger
	continueOnError bool
	hooks           []ResultHook
	learningRate    float64
	classWeight     float64
	newID           func() string
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Default log.Nop().
func WithLogger(l log.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithContinueOnError records a failed cell in Results.Failures and moves on
// instead of aborting the search.
func WithContinueOnError() Option {
	return func(d *Driver) { d.continueOnError = true }
}

// WithResultHook adds a hook called after each completed cell. A hook error
// aborts the search.
func WithResultHook(h ResultHook) Option {
	return func(d *Driver) { d.hooks = append(d.hooks, h) }
}

// WithFixed records the learning rate and class weight shared by every cell.
func WithFixed(learningRate, classWeight float64) Option {
	return func(d *Driver) {
		d.learningRate = learningRate
		d.classWeight = classWeight
	}
}

// WithIDGenerator replaces the UUID generator used for search and run ids.
func WithIDGenerator(f func() string) Option {
	return func(d *Driver) { d.newID = f }
}

// NewDriver validates the grid before anything is trained.
func NewDriver(grid Grid, trainer *training.Trainer, data DataFunc, factory ModelFactory, opts ...Option) (*Driver, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if trainer == nil || data == nil || factory == nil {
		return nil, errors.NewValidationError("driver", "trainer, data and factory are required", nil)
	}
	d := &Driver{
		grid:    grid,
		trainer: trainer,
		data:    data,
		factory: factory,
		logger:  log.Nop(),
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Grid returns the searched grid.
func (d *Driver) Grid() Grid {
	return d.grid
}

// Run enumerates the grid. Before each seed rc is reseeded and the data is
// prepared again; loaders are rebuilt once per batch size; every cell gets a
// fresh model and optimizer.
//
// Unless WithContinueOnError is set, the first failing cell ends the search.
// The rows completed so far are returned together with a CellError.
func (d *Driver) Run(ctx context.Context, rc *repro.Context) (*Results, error) {
	results := &Results{SearchID: d.newID(), rows: make([]Result, 0, d.grid.Size())}
	logger := d.logger.With(log.ComponentKey, "gridsearch", log.SearchIDKey, results.SearchID)
	logger.Info("search started",
		log.PhaseKey, log.PhaseSearch,
		"cells", d.grid.Size(),
		log.LearningRateKey, d.learningRate,
		log.ClassWeightKey, d.classWeight,
	)

	configs := d.grid.Configs(d.learningRate, d.classWeight)
	next := 0
	for _, seed := range d.grid.Seeds {
		rc.Reseed(seed)
		split, err := d.data(ctx, rc)
		if err != nil {
			return results, errors.Wrapf(err, "prepare data for seed %d", seed)
		}
		for _, bs := range d.grid.BatchSizes {
			train, err := dataset.NewLoader(split.Train, bs, dataset.Shuffled(rc.Stream(repro.StreamShuffle)))
			if err != nil {
				return results, errors.Wrap(err, "train loader")
			}
			val, err := dataset.NewLoader(split.Val, bs)
			if err != nil {
				return results, errors.Wrap(err, "validation loader")
			}
			for range d.grid.Dropouts {
				if err := ctx.Err(); err != nil {
					return results, err
				}
				cfg := configs[next]
				next++
				row, h, err := d.runCell(ctx, rc, cfg, train, val, results.SearchID, logger)
				if err != nil {
					cellErr := errors.NewCellError(cfg.Index, cfg.Seed, cfg.BatchSize, cfg.Dropout, err)
					logger.Error("cell failed", cellErr,
						log.CellKey, cfg.Index,
						log.ErrorCodeKey, log.ErrorCellFailed,
					)
					if !d.continueOnError {
						return results, cellErr
					}
					results.failures = append(results.failures, cellErr)
					continue
				}
				results.add(row)
				for _, hook := range d.hooks {
					if err := hook(row, h); err != nil {
						return results, errors.Wrap(err, "result hook")
					}
				}
			}
		}
	}

	if best, ok := results.Best(ByF1); ok {
		logger.Info("best by macro f1", log.CellKey, best.Index, log.MacroF1Key, best.MacroF1, log.ValLossKey, best.ValLoss)
	}
	if best, ok := results.Best(ByValLoss); ok {
		logger.Info("best by validation loss", log.CellKey, best.Index, log.MacroF1Key, best.MacroF1, log.ValLossKey, best.ValLoss)
	}
	return results, nil
}

func (d *Driver) runCell(ctx context.Context, rc *repro.Context, cfg Config, train, val *dataset.Loader, searchID string, logger log.Logger) (row Result, h *training.History, err error) {
	runID := d.newID()
	cellLog := logger.With(
		log.CellKey, cfg.Index,
		log.RunIDKey, runID,
		log.SeedKey, cfg.Seed,
		log.BatchSizeKey, cfg.BatchSize,
		log.DropoutKey, cfg.Dropout,
	)
	cellLog.Info("cell started")
	start := time.Now()

	err = errors.SafeExecute("gridsearch cell", func() error {
		m, opt, err := d.factory(cfg, rc)
		if err != nil {
			return errors.Wrap(err, "build model")
		}
		h, err = d.trainer.Fit(ctx, m, opt, train, val)
		return err
	})
	if err != nil {
		return Result{}, h, err
	}
	last, ok := h.Last()
	if !ok {
		return Result{}, h, errors.NewModelError("gridsearch", "run finished without epochs", nil)
	}
	row = Result{
		Config:       cfg,
		SearchID:     searchID,
		RunID:        runID,
		ValLoss:      last.ValLoss,
		Epochs:       h.Len(),
		StoppedEarly: h.StoppedEarly,
	}
	if last.Report != nil {
		row.MacroF1 = last.Report.MacroAvg.F1
		row.MacroPrecision = last.Report.MacroAvg.Precision
		row.MacroRecall = last.Report.MacroAvg.Recall
	}
	cellLog.Info("cell finished",
		log.ValLossKey, row.ValLoss,
		log.MacroF1Key, row.MacroF1,
		log.PrecisionKey, row.MacroPrecision,
		log.RecallKey, row.MacroRecall,
		log.EpochKey, row.Epochs,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return row, h, nil
}
