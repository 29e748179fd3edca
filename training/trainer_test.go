package training

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/classifier"
	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/tokenizer"
)

// countingModule records how many forward passes ran in training mode.
type countingModule struct {
	model.Module
	training bool
	trainFwd int
}

func (c *countingModule) SetTraining(on bool) {
	c.training = on
	c.Module.SetTraining(on)
}

func (c *countingModule) Forward(in model.Inputs) (*mat.Dense, error) {
	if c.training {
		c.trainFwd++
	}
	return c.Module.Forward(in)
}

// scriptedModule returns, for every evaluation batch, a constant logit taken
// from a script. It has no parameters.
type scriptedModule struct {
	logits   []float64
	training bool
	evals    int
	state    *model.StateManager
}

func (s *scriptedModule) Parameters() []*nn.Parameter { return nil }
func (s *scriptedModule) SetTraining(on bool)         { s.training = on }
func (s *scriptedModule) Backward(*mat.Dense) error   { return nil }
func (s *scriptedModule) State() *model.StateManager  { return s.state }

func (s *scriptedModule) Forward(in model.Inputs) (*mat.Dense, error) {
	out := mat.NewDense(in.Len(), 1, nil)
	if s.training {
		return out, nil
	}
	v := s.logits[min(s.evals, len(s.logits)-1)]
	s.evals++
	for i := 0; i < in.Len(); i++ {
		out.Set(i, 0, v)
	}
	return out, nil
}

func wordPiece(t *testing.T) *tokenizer.WordPiece {
	t.Helper()
	v, err := tokenizer.NewVocab([]string{tokenizer.PadToken, tokenizer.UnkToken, tokenizer.ClsToken, tokenizer.SepToken, "odio", "amo", "tutti", "voi"})
	require.NoError(t, err)
	return tokenizer.NewWordPiece(v)
}

func sequenceClassifier(t *testing.T, tok *tokenizer.WordPiece, seed uint64) *classifier.SequenceClassifier {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	enc, err := encoder.NewContextEncoder(encoder.Config{VocabSize: tok.VocabSize(), HiddenSize: 4, MaxLen: 8}, rng)
	require.NoError(t, err)
	clf, err := classifier.NewSequenceClassifier(enc, 0.3, rng)
	require.NoError(t, err)
	return clf
}

// tenExamples is 6 negative and 4 positive texts.
func tenExamples() []corpus.Example {
	texts := []string{"amo tutti", "amo voi", "amo", "tutti", "voi amo", "tutti voi", "odio tutti", "odio voi", "odio", "voi odio"}
	out := make([]corpus.Example, len(texts))
	for i, s := range texts {
		label := 0
		if i >= 6 {
			label = 1
		}
		out[i] = corpus.Example{ID: string(rune('a' + i)), Text: s, Label: label}
	}
	return out
}

func loader(t *testing.T, ds *dataset.Dataset, batchSize int, opts ...dataset.LoaderOption) *dataset.Loader {
	t.Helper()
	l, err := dataset.NewLoader(ds, batchSize, opts...)
	require.NoError(t, err)
	return l
}

func TestTrainEpochAndEvaluateScenario(t *testing.T) {
	tok := wordPiece(t)
	train, err := dataset.NewSequenceDataset(tok, tenExamples(), 8)
	require.NoError(t, err)
	held, err := dataset.NewSequenceDataset(tok, []corpus.Example{{Text: "odio voi", Label: 1}, {Text: "amo voi", Label: 0}}, 8)
	require.NoError(t, err)

	trainer, err := NewTrainer(BinaryTask{PosWeight: 1.5}, WithMaxEpochs(1))
	require.NoError(t, err)
	m := &countingModule{Module: sequenceClassifier(t, tok, 1)}
	opt := nn.NewAdam(1e-3)

	loss, err := trainer.TrainEpoch(context.Background(), m, opt, loader(t, train, 2, dataset.Shuffled(rand.New(rand.NewPCG(1, 1)))))
	require.NoError(t, err)
	assert.Equal(t, 5, m.trainFwd)
	assert.Equal(t, 5, opt.Steps())
	assert.False(t, math.IsNaN(loss))
	assert.Greater(t, loss, 0.0)

	ev, err := trainer.Evaluate(context.Background(), m, loader(t, held, 2))
	require.NoError(t, err)
	support := 0
	for _, c := range ev.Report.Classes {
		support += c.Support
	}
	assert.Equal(t, 2, support)
	assert.Len(t, ev.Predictions, 2)
	assert.Equal(t, []int{1, 0}, ev.Targets)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	tok := wordPiece(t)
	ds, err := dataset.NewSequenceDataset(tok, tenExamples(), 8)
	require.NoError(t, err)
	clf := sequenceClassifier(t, tok, 3)
	before := clf.Parameters()[0].Value.RawMatrix().Data[0]

	trainer, err := NewTrainer(BinaryTask{PosWeight: 2})
	require.NoError(t, err)
	l := loader(t, ds, 3)
	a, err := trainer.Evaluate(context.Background(), clf, l)
	require.NoError(t, err)
	b, err := trainer.Evaluate(context.Background(), clf, l)
	require.NoError(t, err)

	assert.Equal(t, a.Loss, b.Loss)
	assert.Equal(t, a.Report, b.Report)
	assert.Equal(t, a.Predictions, b.Predictions)
	assert.Equal(t, before, clf.Parameters()[0].Value.RawMatrix().Data[0])
}

func TestEvaluateDropsPositiveWeight(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}, {2, 3}}, Mask: [][]int{{1, 1}, {1, 1}}},
		Labels: [][]int{{1}, {1}},
	}
	plain, err := NewTrainer(BinaryTask{})
	require.NoError(t, err)
	weighted, err := NewTrainer(BinaryTask{PosWeight: 3})
	require.NoError(t, err)

	a, err := plain.Evaluate(context.Background(), &scriptedModule{logits: []float64{0.4}}, loader(t, ds, 2))
	require.NoError(t, err)
	b, err := weighted.Evaluate(context.Background(), &scriptedModule{logits: []float64{0.4}}, loader(t, ds, 2))
	require.NoError(t, err)
	assert.Equal(t, a.Loss, b.Loss)
	assert.InDelta(t, math.Log1p(math.Exp(-0.4)), a.Loss, 1e-12)
}

func TestFitStopsEarly(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}, {2, 3}}, Mask: [][]int{{1, 1}, {1, 1}}},
		Labels: [][]int{{1}, {1}},
	}
	// Loss falls at epoch 2, then rises for two epochs.
	m := &scriptedModule{logits: []float64{0, 1, 0.5, 0.2, 3}, state: model.NewStateManager()}
	logger, _ := log.NewTestLogger(log.LevelInfo)

	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(20), WithLogger(logger))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), m, nn.NewAdam(1e-3), loader(t, ds, 2), loader(t, ds, 2))
	require.NoError(t, err)

	assert.Equal(t, 4, h.Len())
	assert.True(t, h.StoppedEarly)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{h.Epochs[0].Epoch, h.Epochs[1].Epoch, h.Epochs[2].Epoch, h.Epochs[3].Epoch})
	best, ok := h.BestEpoch()
	require.True(t, ok)
	assert.Equal(t, 2, best.Epoch)
	assert.Equal(t, 4, m.state.GetState().Epochs)
	assert.True(t, m.state.IsFitted())

	assert.Equal(t, 4, logger.CountMessage("epoch finished"))
	assert.True(t, logger.ContainsMessage("early stopping triggered"))
}

func TestFitStopsOnNaN(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}}, Mask: [][]int{{1, 1}}},
		Labels: [][]int{{1}},
	}
	var diverged []*errors.NumericalInstabilityError
	errors.SetZerologWarnFunc(nil)
	errors.SetWarningHandler(func(w error) {
		var ni *errors.NumericalInstabilityError
		if errors.As(w, &ni) {
			diverged = append(diverged, ni)
		}
	})
	defer errors.SetWarningHandler(func(error) {})

	logger, _ := log.NewTestLogger(log.LevelInfo)
	m := &scriptedModule{logits: []float64{0.1, math.NaN(), 1}}
	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(20), WithLogger(logger))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), m, nn.NewAdam(1e-3), loader(t, ds, 1), loader(t, ds, 1))
	require.NoError(t, err, "divergence ends the fit without an error")
	assert.Equal(t, 2, h.Len())
	assert.True(t, h.StoppedEarly)
	last, _ := h.Last()
	assert.True(t, math.IsNaN(last.ValLoss))
	assert.Len(t, h.ValLosses(), 2)

	require.Len(t, diverged, 1)
	assert.Equal(t, "val_loss", diverged[0].Operation)
	assert.Equal(t, 2, diverged[0].Iteration)
	assert.Equal(t, 1, logger.CountMessage("loss diverged"))
	assert.True(t, logger.ContainsField(log.ErrorCodeKey, log.ErrorDiverged))
}

func TestFitWithoutState(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}}, Mask: [][]int{{1, 1}}},
		Labels: [][]int{{1}},
	}
	// A Stateful module may not track state at all.
	m := &scriptedModule{logits: []float64{2}}
	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(2))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), m, nn.NewAdam(1e-3), loader(t, ds, 1), loader(t, ds, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, h.Len())

	preds, err := trainer.Predict(context.Background(), m, loader(t, ds, 1))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1}}, preds)
}

func TestFitReturnsPanics(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}}, Mask: [][]int{{1, 1}}},
		Labels: [][]int{{1}},
	}
	explode := func(*CallbackEnv) error { panic("checkpoint writer crashed") }
	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(2), WithCallbacks(explode))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), &scriptedModule{logits: []float64{0}}, nn.NewAdam(1e-3), loader(t, ds, 1), loader(t, ds, 1))
	var pe *errors.PanicError
	require.True(t, errors.As(err, &pe), "got %v", err)
	require.NotNil(t, h)
	assert.Equal(t, 1, h.Len(), "the epoch finished before the callback keeps its record")
}

func TestFitRunsAllEpochsWithoutPatience(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}}, Mask: [][]int{{1, 1}}},
		Labels: [][]int{{0}},
	}
	m := &scriptedModule{logits: []float64{0, 1, 2, 3, 4}}
	// max 5 epochs gives patience 0.
	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(5))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), m, nn.NewAdam(1e-3), loader(t, ds, 1), loader(t, ds, 1))
	require.NoError(t, err)
	assert.Equal(t, 5, h.Len())
	assert.False(t, h.StoppedEarly)
}

func TestFitCallbacks(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}}, Mask: [][]int{{1, 1}}},
		Labels: [][]int{{0}},
	}
	record := map[string][]float64{}
	stopAt2 := func(env *CallbackEnv) error {
		if env.Epoch == 2 {
			env.StopTraining = true
		}
		return nil
	}
	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(10), WithCallbacks(RecordEvaluation(record), stopAt2),
		WithEarlyStopping(WithPatience(0)))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), &scriptedModule{logits: []float64{0}}, nn.NewAdam(1e-3), loader(t, ds, 1), loader(t, ds, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, h.ValLosses(), record["val_loss"])
	assert.Equal(t, h.MacroF1s(), record["macro_f1"])

	failing := func(*CallbackEnv) error { return errors.New("disk full") }
	trainer, err = NewTrainer(BinaryTask{}, WithCallbacks(failing))
	require.NoError(t, err)
	h, err = trainer.Fit(context.Background(), &scriptedModule{logits: []float64{0}}, nn.NewAdam(1e-3), loader(t, ds, 1), loader(t, ds, 1))
	assert.Error(t, err)
	assert.Equal(t, 1, h.Len())
}

func TestModelCheckpointCallback(t *testing.T) {
	tok := wordPiece(t)
	ds, err := dataset.NewSequenceDataset(tok, tenExamples(), 8)
	require.NoError(t, err)
	dir := t.TempDir()
	pattern := filepath.Join(dir, "epoch-%d.gob")

	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(2), WithCallbacks(ModelCheckpoint(pattern, 1, false)))
	require.NoError(t, err)
	clf := sequenceClassifier(t, tok, 9)
	_, err = trainer.Fit(context.Background(), clf, nn.NewAdam(1e-3), loader(t, ds, 5), loader(t, ds, 5))
	require.NoError(t, err)

	restored := sequenceClassifier(t, tok, 10)
	require.NoError(t, restored.Load(filepath.Join(dir, "epoch-2.gob")))
	assert.True(t, restored.State().IsFitted())
}

func TestPredictRoundTrip(t *testing.T) {
	tok := wordPiece(t)
	ds, err := dataset.NewSequenceDataset(tok, tenExamples(), 8)
	require.NoError(t, err)
	clf := sequenceClassifier(t, tok, 4)
	trainer, err := NewTrainer(BinaryTask{}, WithMaxEpochs(1))
	require.NoError(t, err)

	_, err = trainer.Predict(context.Background(), clf, loader(t, ds, 3))
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))

	_, err = trainer.Fit(context.Background(), clf, nn.NewAdam(1e-3), loader(t, ds, 3), loader(t, ds, 3))
	require.NoError(t, err)

	shuffled, err := trainer.Predict(context.Background(), clf, loader(t, ds, 3, dataset.Shuffled(rand.New(rand.NewPCG(2, 2)))))
	require.NoError(t, err)
	ordered, err := trainer.Predict(context.Background(), clf, loader(t, ds, 3))
	require.NoError(t, err)
	assert.Len(t, ordered, ds.Len())
	assert.Equal(t, ordered, shuffled)

	ev, err := trainer.Evaluate(context.Background(), clf, loader(t, ds, 3))
	require.NoError(t, err)
	for i, row := range ordered {
		assert.Equal(t, ev.Predictions[i], row[0])
	}
}

func TestTaggingTaskDecodeRoundTrip(t *testing.T) {
	// O,O,B,I,O padded to 8 with PAD at both ends.
	want := []corpus.Tag{corpus.Outside, corpus.Outside, corpus.Begin, corpus.Inside, corpus.Outside}
	aligned := dataset.AlignTags(want, 8)
	task := NewTaggingTask()
	logits := mat.NewDense(len(aligned), task.NumTags, nil)
	for i, tag := range aligned {
		logits.Set(i, tag, 5)
	}
	decoded := task.Decode(logits, 1)
	require.Len(t, decoded, 1)
	assert.Equal(t, want, dataset.StripPad(decoded[0]))

	loss, err := task.EvalLoss(logits, [][]int{aligned})
	require.NoError(t, err)
	assert.Less(t, loss, 0.05)
	assert.Equal(t, []int{1, 2}, task.ReportLabels())
}

func TestTrainerTaggingFit(t *testing.T) {
	tok := wordPiece(t)
	sentences := []corpus.TaggedSentence{
		{ID: "1", Tokens: []string{"odio", "tutti", "voi"}, Tags: []corpus.Tag{corpus.Outside, corpus.Begin, corpus.Inside}},
		{ID: "2", Tokens: []string{"amo", "voi"}, Tags: []corpus.Tag{corpus.Begin, corpus.Outside}},
	}
	ds, err := dataset.NewTaggingDataset(tok, sentences, 6)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	enc, err := encoder.NewContextEncoder(encoder.Config{VocabSize: tok.VocabSize(), HiddenSize: 4, MaxLen: 6}, rng)
	require.NoError(t, err)
	clf, err := classifier.NewTokenClassifier(enc, 0.1, corpus.NumTags, rng)
	require.NoError(t, err)

	trainer, err := NewTrainer(NewTaggingTask(), WithMaxEpochs(3))
	require.NoError(t, err)
	h, err := trainer.Fit(context.Background(), clf, nn.NewAdam(1e-2), loader(t, ds, 1), loader(t, ds, 2))
	require.NoError(t, err)
	require.Equal(t, 3, h.Len())
	last, _ := h.Last()
	assert.Equal(t, []int{1, 2}, last.Report.Labels())

	preds, err := trainer.Predict(context.Background(), clf, loader(t, ds, 2))
	require.NoError(t, err)
	assert.Len(t, preds, 2)
	assert.Len(t, preds[0], 6)
}

func TestNewTrainerValidation(t *testing.T) {
	_, err := NewTrainer(nil)
	assert.Error(t, err)
	_, err = NewTrainer(BinaryTask{}, WithMaxEpochs(0))
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestTrainEpochHonoursContext(t *testing.T) {
	ds := &dataset.Dataset{
		Inputs: model.Inputs{IDs: [][]int{{2, 3}}, Mask: [][]int{{1, 1}}},
		Labels: [][]int{{0}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trainer, err := NewTrainer(BinaryTask{})
	require.NoError(t, err)
	_, err = trainer.TrainEpoch(ctx, &scriptedModule{logits: []float64{0}}, nn.NewAdam(1e-3), loader(t, ds, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeLimitCallback(t *testing.T) {
	cl := NewCallbackList(TimeLimit(time.Nanosecond))
	stop, err := cl.AfterEpoch(&scriptedModule{}, EpochResult{Epoch: 1, Duration: time.Millisecond})
	require.NoError(t, err)
	assert.True(t, stop)

	cl = NewCallbackList(TimeLimit(time.Hour))
	stop, err = cl.AfterEpoch(&scriptedModule{}, EpochResult{Epoch: 1})
	require.NoError(t, err)
	assert.False(t, stop)
}
