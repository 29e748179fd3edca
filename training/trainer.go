package training

import (
	"context"
	"time"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/metrics"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
)

// DefaultMaxEpochs is the epoch budget of a full fit.
const DefaultMaxEpochs = 20

// Stateful is implemented by models that track whether they have been fitted.
type Stateful interface {
	State() *model.StateManager
}

// Trainer runs train passes, evaluation passes and full fits for one Task.
type Trainer struct {
	task      Task
	logger    log.Logger
	maxEpochs int
	callbacks []Callback
	esOpts    []EarlyStoppingOption
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger. Default log.Nop().
func WithLogger(l log.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithMaxEpochs sets the epoch budget of Fit.
func WithMaxEpochs(n int) Option {
	return func(t *Trainer) { t.maxEpochs = n }
}

// WithCallbacks adds callbacks run after every epoch of Fit.
func WithCallbacks(cbs ...Callback) Option {
	return func(t *Trainer) { t.callbacks = append(t.callbacks, cbs...) }
}

// WithEarlyStopping overrides the monitor configuration of Fit. The options
// are applied after the default patience of PatienceFor(maxEpochs).
func WithEarlyStopping(opts ...EarlyStoppingOption) Option {
	return func(t *Trainer) { t.esOpts = append(t.esOpts, opts...) }
}

// NewTrainer validates the options.
func NewTrainer(task Task, opts ...Option) (*Trainer, error) {
	if task == nil {
		return nil, errors.NewValidationError("task", "must not be nil", nil)
	}
	t := &Trainer{task: task, logger: log.Nop(), maxEpochs: DefaultMaxEpochs}
	for _, o := range opts {
		o(t)
	}
	if t.maxEpochs <= 0 {
		return nil, errors.NewValidationError("max_epochs", "must be positive", t.maxEpochs)
	}
	t.logger = t.logger.With(log.ComponentKey, "training", log.TaskKey, task.Name())
	return t, nil
}

// Task returns the configured task.
func (t *Trainer) Task() Task {
	return t.task
}

// MaxEpochs returns the epoch budget.
func (t *Trainer) MaxEpochs() int {
	return t.maxEpochs
}

// TrainEpoch runs one pass over loader, taking one optimizer step per batch,
// and returns the loss averaged over the number of batches.
func (t *Trainer) TrainEpoch(ctx context.Context, m model.Module, opt nn.Optimizer, loader *dataset.Loader) (loss float64, err error) {
	defer errors.Recover(&err, "Trainer.TrainEpoch")

	params := m.Parameters()
	m.SetTraining(true)
	defer m.SetTraining(false)

	batches := loader.Epoch()
	if len(batches) == 0 {
		return 0, errors.Wrap(errors.ErrEmptyData, "train pass")
	}
	total := 0.0
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		opt.ZeroGrad(params)
		logits, err := m.Forward(b.Inputs)
		if err != nil {
			return 0, errors.Wrapf(err, "forward on batch %d", i)
		}
		l, grad, err := t.task.TrainLoss(logits, b.Labels)
		if err != nil {
			return 0, errors.Wrapf(err, "loss on batch %d", i)
		}
		if err := m.Backward(grad); err != nil {
			return 0, errors.Wrapf(err, "backward on batch %d", i)
		}
		if err := opt.Step(params); err != nil {
			return 0, errors.Wrapf(err, "optimizer step on batch %d", i)
		}
		total += l
	}
	return total / float64(len(batches)), nil
}

// Evaluation is the outcome of one evaluation pass.
type Evaluation struct {
	Loss   float64
	Report *metrics.Report
	// Predictions and Targets are flattened over examples (and positions for
	// tagging), in loader order.
	Predictions []int
	Targets     []int
}

// Evaluate runs one pass over loader in evaluation mode without touching any
// parameter. The report is restricted to the task's ReportLabels.
func (t *Trainer) Evaluate(ctx context.Context, m model.Module, loader *dataset.Loader) (ev *Evaluation, err error) {
	defer errors.Recover(&err, "Trainer.Evaluate")

	m.SetTraining(false)
	batches := loader.Epoch()
	if len(batches) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "evaluation pass")
	}
	ev = &Evaluation{}
	total := 0.0
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := m.Forward(b.Inputs)
		if err != nil {
			return nil, errors.Wrapf(err, "forward on batch %d", i)
		}
		l, err := t.task.EvalLoss(logits, b.Labels)
		if err != nil {
			return nil, errors.Wrapf(err, "loss on batch %d", i)
		}
		total += l
		for _, row := range t.task.Decode(logits, b.Len()) {
			ev.Predictions = append(ev.Predictions, row...)
		}
		ev.Targets = append(ev.Targets, flatten(b.Labels)...)
	}
	ev.Loss = total / float64(len(batches))
	ev.Report, err = metrics.ClassificationReport(ev.Targets, ev.Predictions, metrics.WithLabels(t.task.ReportLabels()...))
	if err != nil {
		return nil, errors.Wrap(err, "classification report")
	}
	return ev, nil
}

// Fit alternates train and evaluation passes for up to MaxEpochs epochs,
// feeding the validation loss to an early-stopping monitor after each one.
// The returned history holds every completed epoch; on error it holds the
// epochs completed before the failure.
func (t *Trainer) Fit(ctx context.Context, m model.Module, opt nn.Optimizer, train, val *dataset.Loader) (history *History, err error) {
	defer errors.Recover(&err, "Trainer.Fit")

	es, err := NewEarlyStopping(append([]EarlyStoppingOption{WithPatience(PatienceFor(t.maxEpochs))}, t.esOpts...)...)
	if err != nil {
		return nil, err
	}
	var state *model.StateManager
	if s, ok := m.(Stateful); ok && s.State() != nil {
		state = s.State()
		state.Reset()
	}
	cbs := NewCallbackList(t.callbacks...)
	nTrain := train.Dataset().Len()

	t.logger.Info("fit started",
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, nTrain,
		log.BatchesKey, train.Len(),
		log.MaxEpochsKey, t.maxEpochs,
		log.PatienceKey, es.Patience(),
	)

	history = &History{}
	for epoch := 1; epoch <= t.maxEpochs; epoch++ {
		start := time.Now()
		trainLoss, err := t.TrainEpoch(ctx, m, opt, train)
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}
		ev, err := t.Evaluate(ctx, m, val)
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}
		if state != nil {
			state.RecordEpoch(nTrain)
		}
		result := EpochResult{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValLoss:   ev.Loss,
			Report:    ev.Report,
			Duration:  time.Since(start),
		}
		history.append(result)

		t.logger.Info("epoch finished",
			log.EpochKey, epoch,
			log.TrainLossKey, trainLoss,
			log.ValLossKey, ev.Loss,
			log.MacroF1Key, result.MacroF1(),
			log.DurationMsKey, result.Duration.Milliseconds(),
		)

		diverged := t.checkLosses(epoch, trainLoss, ev.Loss)

		stop, err := cbs.AfterEpoch(m, result)
		if err != nil {
			return history, errors.Wrapf(err, "callback after epoch %d", epoch)
		}
		if es.Step(ev.Loss) {
			best, _ := es.Best()
			logf := t.logger.Info
			if diverged {
				logf = t.logger.Warn
			}
			logf("early stopping triggered",
				log.EpochKey, epoch,
				log.ValLossKey, ev.Loss,
				"best_val_loss", best,
				log.PatienceKey, es.Patience(),
			)
			history.StoppedEarly = true
			break
		}
		if stop {
			history.StoppedEarly = true
			break
		}
	}
	return history, nil
}

// checkLosses reports a NaN or Inf epoch loss as a warning. Divergence is
// not fatal: the monitor decides whether the fit stops.
func (t *Trainer) checkLosses(epoch int, trainLoss, valLoss float64) (diverged bool) {
	for _, c := range []struct {
		op   string
		loss float64
	}{{"train_loss", trainLoss}, {"val_loss", valLoss}} {
		if err := errors.CheckScalar(c.op, c.loss, epoch); err != nil {
			errors.Warn(err)
			t.logger.Warn("loss diverged", err,
				log.EpochKey, epoch,
				log.ErrorCodeKey, log.ErrorDiverged,
			)
			diverged = true
		}
	}
	return diverged
}

// Predict decodes loader's examples with a fitted model and returns one row
// per example in dataset order.
func (t *Trainer) Predict(ctx context.Context, m model.Module, loader *dataset.Loader) (out [][]int, err error) {
	defer errors.Recover(&err, "Trainer.Predict")

	if s, ok := m.(Stateful); ok && s.State() != nil {
		if err := s.State().RequireFitted(t.task.Name()+" classifier", "Predict"); err != nil {
			return nil, err
		}
	}
	m.SetTraining(false)
	out = make([][]int, loader.Dataset().Len())
	for _, b := range loader.Epoch() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := m.Forward(b.Inputs)
		if err != nil {
			return nil, err
		}
		for i, row := range t.task.Decode(logits, b.Len()) {
			out[b.Index[i]] = row
		}
	}
	return out, nil
}
