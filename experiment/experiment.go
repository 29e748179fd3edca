// Package experiment wires a config.Experiment into the pieces a search or a
// final fit needs: the corpus splits, the tokenizer, the task and a model
// factory.
package experiment

import (
	"context"
	"path/filepath"

	"github.com/YuminosukeSato/haspeede/classifier"
	"github.com/YuminosukeSato/haspeede/config"
	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/tokenizer"
	"github.com/YuminosukeSato/haspeede/training"
)

// NamedSet is an evaluation split with its report name.
type NamedSet struct {
	Name    string
	Dataset *dataset.Dataset
}

// source hides the difference between sequence and tagging corpora.
type source interface {
	load(dataDir string) error
	vocabTexts() []string
	prepare(rc *repro.Context, subsetLen int, logger log.Logger) (train, val *dataset.Dataset, err error)
	tests(logger log.Logger) ([]NamedSet, error)
	setTokenizer(tok encoder.Tokenizer)
}

// Setup is one experiment, ready to prepare data and build models.
type Setup struct {
	exp      *config.Experiment
	lang     corpus.Language
	registry *encoder.Registry
	logger   log.Logger
	dataDir  string
	tok      *tokenizer.WordPiece
	pooling  classifier.Pooling
	src      source
	loaded   bool
}

// Option configures a Setup.
type Option func(*Setup)

// WithRegistry replaces encoder.DefaultRegistry.
func WithRegistry(r *encoder.Registry) Option {
	return func(s *Setup) { s.registry = r }
}

// WithLogger sets the logger. Default log.Nop().
func WithLogger(l log.Logger) Option {
	return func(s *Setup) { s.logger = l }
}

// WithDataDir resolves relative corpus paths against dir.
func WithDataDir(dir string) Option {
	return func(s *Setup) { s.dataDir = dir }
}

// WithTokenizer uses tok instead of building a vocabulary, e.g. the one saved
// next to a checkpoint.
func WithTokenizer(tok *tokenizer.WordPiece) Option {
	return func(s *Setup) { s.tok = tok }
}

// New validates exp and selects the corpus layout of its task.
func New(exp *config.Experiment, opts ...Option) (*Setup, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	lang, err := corpus.ParseLanguage(exp.Language)
	if err != nil {
		return nil, err
	}
	pooling, err := classifier.ParsePooling(exp.Encoder.Pooling)
	if err != nil {
		return nil, err
	}
	s := &Setup{
		exp:      exp,
		lang:     lang,
		registry: encoder.DefaultRegistry(),
		logger:   log.Nop(),
		pooling:  pooling,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(log.ComponentKey, "experiment", log.TaskKey, exp.Task, log.LanguageKey, string(lang))

	switch exp.Task {
	case config.TaskItalianHS:
		s.src = newSequenceSource(exp, lang, corpus.FormatHaSpeeDe, corpus.HateSpeech)
	case config.TaskItalianStereotype:
		s.src = newSequenceSource(exp, lang, corpus.FormatHaSpeeDe, corpus.Stereotype)
	case config.TaskSpanishHS:
		s.src = newSequenceSource(exp, lang, corpus.FormatHatEval, "")
	case config.TaskGermanHS:
		s.src = newSequenceSource(exp, lang, corpus.FormatGermanRefugees, "")
	case config.TaskItalianSpan:
		s.src = newSpanSource(exp)
	default:
		return nil, errors.NewValidationError("task", "unknown task", exp.Task)
	}
	return s, nil
}

// Experiment returns the configuration.
func (s *Setup) Experiment() *config.Experiment {
	return s.exp
}

// Language returns the corpus language.
func (s *Setup) Language() corpus.Language {
	return s.lang
}

// Tokenizer returns the tokenizer, nil before Load.
func (s *Setup) Tokenizer() *tokenizer.WordPiece {
	return s.tok
}

// Load reads the corpus files and builds the vocabulary unless one was
// given.
func (s *Setup) Load() error {
	s.logger.Info("loading corpus", log.PhaseKey, log.PhasePreprocessing)
	if err := s.src.load(s.dataDir); err != nil {
		return err
	}
	if s.tok == nil {
		if s.exp.Encoder.Vocab != "" {
			v, err := tokenizer.LoadVocabFile(s.resolve(s.exp.Encoder.Vocab))
			if err != nil {
				return err
			}
			s.tok = tokenizer.NewWordPiece(v)
		} else {
			s.tok = tokenizer.NewWordPiece(tokenizer.BuildVocab(s.src.vocabTexts(), s.exp.Encoder.MinCount, s.exp.Encoder.MaxWords))
		}
	}
	s.src.setTokenizer(s.tok)
	s.loaded = true
	s.logger.Info("vocabulary ready", "vocab_size", s.tok.VocabSize())
	return nil
}

func (s *Setup) resolve(path string) string {
	return resolve(s.dataDir, path)
}

func resolve(dir, path string) string {
	if path == "" || dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (s *Setup) requireLoaded(op string) error {
	if !s.loaded {
		return errors.NewModelError(op, "Load has not been called", nil)
	}
	return nil
}

// Task returns the loss and decoding contract of the experiment.
func (s *Setup) Task() training.Task {
	if s.exp.IsSpan() {
		return training.NewTaggingTask()
	}
	return training.BinaryTask{PosWeight: s.exp.ClassWeight}
}

// NewTrainer returns a trainer for the experiment's task.
func (s *Setup) NewTrainer(maxEpochs int, opts ...training.Option) (*training.Trainer, error) {
	opts = append([]training.Option{training.WithMaxEpochs(maxEpochs), training.WithLogger(s.logger)}, opts...)
	return training.NewTrainer(s.Task(), opts...)
}

// Prepare draws the train and validation datasets for the seed active in rc.
// subsetLen > 0 limits the number of examples before splitting.
func (s *Setup) Prepare(ctx context.Context, rc *repro.Context, subsetLen int) (*gridsearch.Split, error) {
	if err := s.requireLoaded("Prepare"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	train, val, err := s.src.prepare(rc, subsetLen, s.logger.With(log.SeedKey, rc.Seed()))
	if err != nil {
		return nil, err
	}
	return &gridsearch.Split{Train: train, Val: val}, nil
}

// Data adapts Prepare, with the configured subset length, to the grid search.
func (s *Setup) Data() gridsearch.DataFunc {
	return func(ctx context.Context, rc *repro.Context) (*gridsearch.Split, error) {
		return s.Prepare(ctx, rc, s.exp.SubsetLen)
	}
}

// TestSets returns the held-out evaluation splits. For corpora without an
// official test file the test split comes from the most recent Prepare.
func (s *Setup) TestSets() ([]NamedSet, error) {
	if err := s.requireLoaded("TestSets"); err != nil {
		return nil, err
	}
	return s.src.tests(s.logger)
}

// NewModel builds a fresh encoder and head for cfg. Initialization draws
// from the init stream of rc and dropout masks from its dropout stream.
func (s *Setup) NewModel(cfg gridsearch.Config, rc *repro.Context) (model.Module, nn.Optimizer, error) {
	if err := s.requireLoaded("NewModel"); err != nil {
		return nil, nil, err
	}
	enc, err := s.registry.New(s.lang, encoder.Config{
		VocabSize:  s.tok.VocabSize(),
		HiddenSize: s.exp.Encoder.HiddenSize,
		MaxLen:     s.exp.MaxLen,
		InitStd:    s.exp.Encoder.InitStd,
	}, rc.Stream(repro.StreamInit))
	if err != nil {
		return nil, nil, err
	}
	name := classifier.WithEncoderName(s.registry.Name(s.lang))
	var m model.Module
	if s.exp.IsSpan() {
		m, err = classifier.NewTokenClassifier(enc, cfg.Dropout, corpus.NumTags, rc.Stream(repro.StreamDropout), name)
	} else {
		m, err = classifier.NewSequenceClassifier(enc, cfg.Dropout, rc.Stream(repro.StreamDropout), name, classifier.WithPooling(s.pooling))
	}
	if err != nil {
		return nil, nil, err
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = s.exp.LearningRate
	}
	return m, nn.NewAdam(lr), nil
}

// ModelFactory adapts NewModel to the grid search.
func (s *Setup) ModelFactory() gridsearch.ModelFactory {
	return s.NewModel
}

// FinalConfig is the cell used by a final fit.
func (s *Setup) FinalConfig() gridsearch.Config {
	f := s.exp.Final
	return gridsearch.Config{
		Seed:         f.Seed,
		BatchSize:    f.BatchSize,
		Dropout:      f.Dropout,
		LearningRate: s.exp.LearningRate,
		ClassWeight:  s.exp.ClassWeight,
	}
}

// Checkpointer is implemented by both classifiers.
type Checkpointer interface {
	model.Module
	training.Stateful
	Save(path string) error
	Load(path string) error
}
