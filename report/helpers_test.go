package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/training"
)

type constModule struct{ logit float64 }

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

func bgCtx() context.Context { return context.Background() }

func newRC() *repro.Context { return repro.New(repro.CPU, 0) }

func mustTrainer(t *testing.T) *training.Trainer {
	t.Helper()
	tr, err := training.NewTrainer(training.BinaryTask{}, training.WithMaxEpochs(1))
	require.NoError(t, err)
	return tr
}

func tinyData(context.Context, *repro.Context) (*gridsearch.Split, error) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}, {2, 3}}, Mask: [][]int{{1, 1}, {1, 1}}},
		Labels: [][]int{{1}, {0}},
	}
	return &gridsearch.Split{Train: ds, Val: ds}, nil
}

func constFactory(cfg gridsearch.Config, _ *repro.Context) (model.Module, nn.Optimizer, error) {
	return &constModule{logit: 1 - 2*cfg.Dropout}, nn.NewAdam(1e-5), nil
}
