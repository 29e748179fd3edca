package gridsearch

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/training"
)

// constModule predicts the same logit for every example.
type constModule struct {
	logit float64
}

func (c *constModule) Parameters() []*nn.Parameter { return nil }
func (c *constModule) SetTraining(bool)            {}
func (c *constModule) Backward(*mat.Dense) error   { return nil }
func (c *constModule) Forward(in model.Inputs) (*mat.Dense, error) {
	out := mat.NewDense(in.Len(), 1, nil)
	for i := 0; i < in.Len(); i++ {
		out.Set(i, 0, c.logit)
	}
	return out, nil
}

func tinySplit() *Split {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{
			IDs:  [][]int{{2, 4, 3}, {2, 5, 3}, {2, 4, 3}, {2, 5, 3}},
			Mask: [][]int{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
		},
		Labels: [][]int{{1}, {0}, {1}, {1}},
	}
	return &Split{Train: ds, Val: ds}
}

func newTrainer(t *testing.T) *training.Trainer {
	t.Helper()
	tr, err := training.NewTrainer(training.BinaryTask{PosWeight: 1.5}, training.WithMaxEpochs(2))
	require.NoError(t, err)
	return tr
}

func ids() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// logitFactory maps dropout to a logit so cells differ: dropout 0.2 predicts
// everything positive, 0.5 everything negative.
func logitFactory(cfg Config, _ *repro.Context) (model.Module, nn.Optimizer, error) {
	return &constModule{logit: 2 - 8*cfg.Dropout}, nn.NewAdam(1e-5), nil
}

func TestGridValidate(t *testing.T) {
	tests := []struct {
		name  string
		grid  Grid
		empty bool
	}{
		{"no seeds", Grid{BatchSizes: []int{2}, Dropouts: []float64{0.1}}, true},
		{"no batch sizes", Grid{Seeds: []int64{1}, Dropouts: []float64{0.1}}, true},
		{"no dropouts", Grid{Seeds: []int64{1}, BatchSizes: []int{2}}, true},
		{"zero batch", Grid{Seeds: []int64{1}, BatchSizes: []int{0}, Dropouts: []float64{0.1}}, false},
		{"dropout one", Grid{Seeds: []int64{1}, BatchSizes: []int{2}, Dropouts: []float64{1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			require.Error(t, err)
			if tt.empty {
				assert.True(t, errors.Is(err, errors.ErrEmptyGrid))
			} else {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
			}
		})
	}
	assert.NoError(t, DefaultGrid().Validate())
	assert.Equal(t, 28, DefaultGrid().Size())
}

func TestNewDriverFailsFastOnEmptyGrid(t *testing.T) {
	called := false
	data := func(context.Context, *repro.Context) (*Split, error) {
		called = true
		return tinySplit(), nil
	}
	_, err := NewDriver(Grid{Seeds: []int64{1}}, newTrainer(t), data, logitFactory)
	assert.True(t, errors.Is(err, errors.ErrEmptyGrid))
	assert.False(t, called)
}

func TestRunEnumeratesEveryCell(t *testing.T) {
	grid := Grid{Seeds: []int64{42, 7}, BatchSizes: []int{1, 2, 4}, Dropouts: []float64{0.2, 0.5}}
	var seeds []int64
	data := func(_ context.Context, rc *repro.Context) (*Split, error) {
		seeds = append(seeds, rc.Seed())
		return tinySplit(), nil
	}
	logger, _ := log.NewTestLogger(log.LevelInfo)
	d, err := NewDriver(grid, newTrainer(t), data, logitFactory,
		WithFixed(1e-5, 1.5), WithIDGenerator(ids()), WithLogger(logger))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	require.NoError(t, err)
	require.Equal(t, 12, res.Len())
	assert.Equal(t, []int64{42, 7}, seeds)
	assert.Equal(t, "id-1", res.SearchID)

	seen := map[[3]float64]bool{}
	for i, row := range res.Rows() {
		assert.Equal(t, i, row.Index)
		key := [3]float64{float64(row.Seed), float64(row.BatchSize), row.Dropout}
		assert.False(t, seen[key], "duplicate %v", key)
		seen[key] = true
		assert.Equal(t, 1e-5, row.LearningRate)
		assert.Equal(t, 1.5, row.ClassWeight)
		assert.NotEmpty(t, row.RunID)
		assert.Equal(t, 2, row.Epochs)
	}
	rows := res.Rows()
	assert.Equal(t, Config{Index: 1, Seed: 42, BatchSize: 1, Dropout: 0.5, LearningRate: 1e-5, ClassWeight: 1.5}, rows[1].Config)
	assert.Equal(t, Config{Index: 6, Seed: 7, BatchSize: 1, Dropout: 0.2, LearningRate: 1e-5, ClassWeight: 1.5}, rows[6].Config)

	assert.Equal(t, 12, logger.CountMessage("cell finished"))
	assert.True(t, logger.ContainsMessage("best by macro f1"))
}

func TestBestSurfacesBothCriteria(t *testing.T) {
	res := &Results{}
	res.add(Result{Config: Config{Index: 0}, ValLoss: 0.30, MacroF1: 0.70})
	res.add(Result{Config: Config{Index: 1}, ValLoss: 0.25, MacroF1: 0.60})
	res.add(Result{Config: Config{Index: 2}, ValLoss: math.NaN(), MacroF1: 0.75})
	res.add(Result{Config: Config{Index: 3}, ValLoss: 0.25, MacroF1: 0.75})

	byF1, ok := res.Best(ByF1)
	require.True(t, ok)
	assert.Equal(t, 2, byF1.Index)

	byLoss, ok := res.Best(ByValLoss)
	require.True(t, ok)
	assert.Equal(t, 1, byLoss.Index)

	_, ok = (&Results{}).Best(ByF1)
	assert.False(t, ok)
	assert.Equal(t, "val_loss", ByValLoss.String())
}

func TestRunAbortsOnFailingCell(t *testing.T) {
	grid := Grid{Seeds: []int64{1}, BatchSizes: []int{2}, Dropouts: []float64{0.2, 0.3, 0.4, 0.5}}
	factory := func(cfg Config, rc *repro.Context) (model.Module, nn.Optimizer, error) {
		if cfg.Index == 2 {
			return nil, nil, errors.New("out of memory")
		}
		return logitFactory(cfg, rc)
	}
	data := func(context.Context, *repro.Context) (*Split, error) { return tinySplit(), nil }
	d, err := NewDriver(grid, newTrainer(t), data, factory)
	require.NoError(t, err)

	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	require.Error(t, err)
	var ce *errors.CellError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Index)
	assert.Equal(t, 0.4, ce.Dropout)
	assert.Equal(t, 2, res.Len())
}

func TestRunContinueOnError(t *testing.T) {
	grid := Grid{Seeds: []int64{1}, BatchSizes: []int{2}, Dropouts: []float64{0.2, 0.3, 0.4}}
	factory := func(cfg Config, rc *repro.Context) (model.Module, nn.Optimizer, error) {
		if cfg.Index == 1 {
			panic("index out of range")
		}
		return logitFactory(cfg, rc)
	}
	data := func(context.Context, *repro.Context) (*Split, error) { return tinySplit(), nil }
	d, err := NewDriver(grid, newTrainer(t), data, factory, WithContinueOnError())
	require.NoError(t, err)

	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Len())
	require.Len(t, res.Failures(), 1)
	var pe *errors.PanicError
	assert.True(t, errors.As(res.Failures()[0], &pe))
}

func TestRunDataErrorAborts(t *testing.T) {
	grid := Grid{Seeds: []int64{1, 2}, BatchSizes: []int{2}, Dropouts: []float64{0.2}}
	data := func(_ context.Context, rc *repro.Context) (*Split, error) {
		if rc.Seed() == 2 {
			return nil, errors.Wrap(errors.ErrEmptyData, "corpus")
		}
		return tinySplit(), nil
	}
	d, err := NewDriver(grid, newTrainer(t), data, logitFactory, WithContinueOnError())
	require.NoError(t, err)
	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
	assert.Equal(t, 1, res.Len())
}

func TestResultHook(t *testing.T) {
	grid := Grid{Seeds: []int64{1}, BatchSizes: []int{2}, Dropouts: []float64{0.2, 0.5}}
	data := func(context.Context, *repro.Context) (*Split, error) { return tinySplit(), nil }
	var epochs []int
	hook := func(r Result, h *training.History) error {
		epochs = append(epochs, h.Len())
		assert.Equal(t, h.Len(), r.Epochs)
		return nil
	}
	d, err := NewDriver(grid, newTrainer(t), data, logitFactory, WithResultHook(hook))
	require.NoError(t, err)
	_, err = d.Run(context.Background(), repro.New(repro.CPU, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, epochs)

	d, err = NewDriver(grid, newTrainer(t), data, logitFactory, WithResultHook(func(Result, *training.History) error {
		return errors.New("store closed")
	}))
	require.NoError(t, err)
	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	assert.Error(t, err)
	assert.Equal(t, 1, res.Len())
}

func TestLastEpochMetricsAreRecorded(t *testing.T) {
	grid := Grid{Seeds: []int64{1}, BatchSizes: []int{4}, Dropouts: []float64{0.2, 0.5}}
	data := func(context.Context, *repro.Context) (*Split, error) { return tinySplit(), nil }
	d, err := NewDriver(grid, newTrainer(t), data, logitFactory)
	require.NoError(t, err)
	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	require.NoError(t, err)

	rows := res.Rows()
	// Dropout 0.2 predicts all positive: class 0 F1 is 0, class 1 F1 is 6/7.
	assert.InDelta(t, 3.0/7, rows[0].MacroF1, 1e-9)
	// Dropout 0.5 predicts all negative: class 0 F1 is 0.4, class 1 F1 is 0.
	assert.InDelta(t, 0.2, rows[1].MacroF1, 1e-9)
	assert.InDelta(t, math.Log1p(math.Exp(-0.4))*0.75+math.Log1p(math.Exp(0.4))*0.25, rows[0].ValLoss, 1e-9)
}

func TestAggregateBy(t *testing.T) {
	res := &Results{}
	res.add(Result{Config: Config{Dropout: 0.2, Seed: 1}, MacroF1: 0.6})
	res.add(Result{Config: Config{Dropout: 0.2, Seed: 2}, MacroF1: 0.8})
	res.add(Result{Config: Config{Dropout: 0.5, Seed: 1}, MacroF1: 0.5})

	agg := res.AggregateBy(ByDropout)
	require.Len(t, agg, 2)
	assert.Equal(t, 0.2, agg[0].Value)
	assert.Equal(t, 2, agg[0].Count)
	assert.InDelta(t, 0.7, agg[0].MeanF1, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), agg[0].StdF1, 1e-12)
	assert.Equal(t, 0.5, agg[1].MeanF1)

	assert.Len(t, res.AggregateBy(BySeed), 2)
	assert.Len(t, res.AggregateBy(ByBatchSize), 1)
}

func TestDivergingCellKeepsLastEpoch(t *testing.T) {
	tr, err := training.NewTrainer(training.BinaryTask{PosWeight: 1.5}, training.WithMaxEpochs(5),
		training.WithEarlyStopping(training.WithPatience(1)))
	require.NoError(t, err)
	grid := Grid{Seeds: []int64{1}, BatchSizes: []int{2}, Dropouts: []float64{0.2, 0.5}}
	factory := func(cfg Config, _ *repro.Context) (model.Module, nn.Optimizer, error) {
		if cfg.Dropout == 0.5 {
			return &constModule{logit: math.NaN()}, nn.NewAdam(1e-5), nil
		}
		return &constModule{logit: 2 - 8*cfg.Dropout}, nn.NewAdam(1e-5), nil
	}
	d, err := NewDriver(grid, tr, func(context.Context, *repro.Context) (*Split, error) { return tinySplit(), nil }, factory,
		WithIDGenerator(ids()))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), repro.New(repro.CPU, 0))
	require.NoError(t, err, "divergence is an early stop, not a cell failure")
	require.Equal(t, 2, res.Len())
	assert.Empty(t, res.Failures())

	diverged := res.Rows()[1]
	assert.True(t, math.IsNaN(diverged.ValLoss), "the row keeps the loss of the epoch training stopped at")
	assert.True(t, diverged.StoppedEarly)
	assert.Equal(t, 2, diverged.Epochs)
	// NaN logits decode to the negative class: F1 0.4 for class 0, 0 for class 1.
	assert.InDelta(t, 0.2, diverged.MacroF1, 1e-9)

	best, ok := res.Best(ByValLoss)
	require.True(t, ok)
	assert.Equal(t, 0, best.Index, "NaN rows never win on loss")
}
