package experiment

import (
	"context"

	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/training"
)

// FinalRun is a fit of the final configuration.
type FinalRun struct {
	Config  gridsearch.Config
	Model   Checkpointer
	Trainer *training.Trainer
	History *training.History
	Split   *gridsearch.Split
}

// TestReport is the evaluation of one held-out split.
type TestReport struct {
	Name       string
	Evaluation *training.Evaluation
}

// FitFinal trains the final configuration from scratch. The data is drawn
// with the final seed, and Final.SubsetLen overrides the search subset when
// set.
func (s *Setup) FitFinal(ctx context.Context, device repro.Device, opts ...training.Option) (*FinalRun, error) {
	if err := s.requireLoaded("FitFinal"); err != nil {
		return nil, err
	}
	cfg := s.FinalConfig()
	rc := repro.New(device, cfg.Seed)
	split, err := s.Prepare(ctx, rc, s.finalSubset())
	if err != nil {
		return nil, err
	}
	train, err := dataset.NewLoader(split.Train, cfg.BatchSize, dataset.Shuffled(rc.Stream(repro.StreamShuffle)))
	if err != nil {
		return nil, err
	}
	val, err := dataset.NewLoader(split.Val, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	m, opt, err := s.NewModel(cfg, rc)
	if err != nil {
		return nil, err
	}
	cp, ok := m.(Checkpointer)
	if !ok {
		return nil, errors.NewModelError("FitFinal", "model does not support checkpoints", nil)
	}
	trainer, err := s.NewTrainer(s.exp.Final.MaxEpochs, opts...)
	if err != nil {
		return nil, err
	}

	s.logger.Info("final fit",
		log.PhaseKey, log.PhaseTraining,
		log.SeedKey, cfg.Seed,
		log.BatchSizeKey, cfg.BatchSize,
		log.DropoutKey, cfg.Dropout,
		log.MaxEpochsKey, s.exp.Final.MaxEpochs,
	)
	h, err := trainer.Fit(ctx, cp, opt, train, val)
	if err != nil {
		return nil, errors.Wrap(err, "final fit")
	}
	return &FinalRun{Config: cfg, Model: cp, Trainer: trainer, History: h, Split: split}, nil
}

// Restore builds the final model and loads its weights from path. The
// tokenizer must match the one the checkpoint was trained with. The final
// split is drawn again so corpora without an official test file get the
// same held-out examples as FitFinal.
func (s *Setup) Restore(ctx context.Context, device repro.Device, path string) (Checkpointer, error) {
	if err := s.requireLoaded("Restore"); err != nil {
		return nil, err
	}
	cfg := s.FinalConfig()
	rc := repro.New(device, cfg.Seed)
	if _, err := s.Prepare(ctx, rc, s.finalSubset()); err != nil {
		return nil, err
	}
	m, _, err := s.NewModel(cfg, rc)
	if err != nil {
		return nil, err
	}
	cp, ok := m.(Checkpointer)
	if !ok {
		return nil, errors.NewModelError("Restore", "model does not support checkpoints", nil)
	}
	if err := cp.Load(path); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Setup) finalSubset() int {
	if s.exp.Final.SubsetLen > 0 {
		return s.exp.Final.SubsetLen
	}
	return s.exp.SubsetLen
}

// EvaluateTests evaluates m on every held-out split in order.
func (s *Setup) EvaluateTests(ctx context.Context, trainer *training.Trainer, m Checkpointer, batchSize int) ([]TestReport, error) {
	sets, err := s.TestSets()
	if err != nil {
		return nil, err
	}
	if err := m.State().RequireFitted(trainer.Task().Name()+" classifier", "EvaluateTests"); err != nil {
		return nil, err
	}
	out := make([]TestReport, 0, len(sets))
	for _, set := range sets {
		loader, err := dataset.NewLoader(set.Dataset, batchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "loader for %s", set.Name)
		}
		ev, err := trainer.Evaluate(ctx, m, loader)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", set.Name)
		}
		s.logger.Info("test evaluation",
			log.PhaseKey, log.PhaseTesting,
			log.SplitKey, set.Name,
			log.SamplesKey, set.Dataset.Len(),
			log.ValLossKey, ev.Loss,
			log.MacroF1Key, ev.Report.MacroAvg.F1,
		)
		out = append(out, TestReport{Name: set.Name, Evaluation: ev})
	}
	return out, nil
}
