package experiment

import (
	"github.com/YuminosukeSato/haspeede/config"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/preprocessing"
)

// sequenceSource serves the binary text classification corpora. With a dev
// file it subsamples and splits per seed; with given train and val files it
// only normalizes them.
type sequenceSource struct {
	exp    *config.Experiment
	format corpus.Format
	column corpus.LabelColumn
	norm   *preprocessing.Normalizer
	tok    encoder.Tokenizer

	dev, train, val []corpus.Example
	test, testNews  []corpus.Example
	heldOut         []corpus.Example
}

func newSequenceSource(exp *config.Experiment, lang corpus.Language, format corpus.Format, column corpus.LabelColumn) *sequenceSource {
	return &sequenceSource{
		exp:    exp,
		format: format,
		column: column,
		norm:   preprocessing.NewNormalizer(lang),
	}
}

func (s *sequenceSource) setTokenizer(tok encoder.Tokenizer) {
	s.tok = tok
}

func (s *sequenceSource) read(dir, path string) ([]corpus.Example, error) {
	if path == "" {
		return nil, nil
	}
	return corpus.LoadExamples(resolve(dir, path), s.format, s.column)
}

func (s *sequenceSource) load(dir string) error {
	var err error
	d := s.exp.Data
	if s.dev, err = s.read(dir, d.Dev); err != nil {
		return err
	}
	if s.train, err = s.read(dir, d.Train); err != nil {
		return err
	}
	if s.val, err = s.read(dir, d.Val); err != nil {
		return err
	}
	if s.test, err = s.read(dir, d.Test); err != nil {
		return err
	}
	if s.testNews, err = s.read(dir, d.TestNews); err != nil {
		return err
	}
	if len(s.dev) == 0 && (len(s.train) == 0 || len(s.val) == 0) {
		return errors.Wrap(errors.ErrEmptyData, "no training examples")
	}
	return nil
}

// vocabTexts are the normalized texts available for training: the dev file
// or the train and val files. Test files never contribute.
func (s *sequenceSource) vocabTexts() []string {
	all := append(append(append([]corpus.Example(nil), s.dev...), s.train...), s.val...)
	return corpus.Texts(s.norm.ApplyAll(all))
}

func (s *sequenceSource) prepare(rc *repro.Context, subsetLen int, logger log.Logger) (*dataset.Dataset, *dataset.Dataset, error) {
	var train, val []corpus.Example
	if len(s.dev) > 0 {
		items := preprocessing.Sample(s.dev, subsetLen, rc.Stream(repro.StreamSample))
		var err error
		if s.exp.TestShare > 0 {
			train, val, s.heldOut, err = preprocessing.ThreeWaySplit(items, s.exp.ValSize, s.exp.TestShare, rc.Stream(repro.StreamSplit))
		} else {
			train, val, err = preprocessing.TrainTestSplit(items, s.exp.ValSize, rc.Stream(repro.StreamSplit))
		}
		if err != nil {
			return nil, nil, err
		}
	} else {
		train = preprocessing.Sample(s.train, subsetLen, rc.Stream(repro.StreamSample))
		val = s.val
	}

	train, val = s.norm.ApplyAll(train), s.norm.ApplyAll(val)
	describe(logger, "train", train)
	describe(logger, "val", val)

	trainDS, err := dataset.NewSequenceDataset(s.tok, train, s.exp.MaxLen)
	if err != nil {
		return nil, nil, errors.Wrap(err, "train dataset")
	}
	valDS, err := dataset.NewSequenceDataset(s.tok, val, s.exp.MaxLen)
	if err != nil {
		return nil, nil, errors.Wrap(err, "validation dataset")
	}
	return trainDS, valDS, nil
}

func (s *sequenceSource) tests(logger log.Logger) ([]NamedSet, error) {
	var out []NamedSet
	add := func(name string, examples []corpus.Example) error {
		if len(examples) == 0 {
			return nil
		}
		examples = s.norm.ApplyAll(examples)
		describe(logger, name, examples)
		ds, err := dataset.NewSequenceDataset(s.tok, examples, s.exp.MaxLen)
		if err != nil {
			return errors.Wrapf(err, "%s dataset", name)
		}
		out = append(out, NamedSet{Name: name, Dataset: ds})
		return nil
	}
	test := s.test
	if len(test) == 0 {
		test = s.heldOut
	}
	if err := add("test", test); err != nil {
		return nil, err
	}
	if err := add("test_news", s.testNews); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no test split")
	}
	return out, nil
}

func describe(logger log.Logger, split string, examples []corpus.Example) {
	d := corpus.Describe(examples)
	logger.Info("label distribution",
		log.SplitKey, split,
		log.SamplesKey, d.Total,
		log.PositiveRatioKey, d.PositiveRatio(),
		"negative_ratio", d.NegativeRatio(),
	)
}
