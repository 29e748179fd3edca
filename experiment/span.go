package experiment

import (
	"strings"

	"github.com/YuminosukeSato/haspeede/config"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/preprocessing"
)

// spanSource serves the task C token files. The subset is the first
// subsetLen sentences in file order and sentences are split by id.
type spanSource struct {
	exp *config.Experiment
	tok encoder.Tokenizer

	dev, test, testNews []corpus.TaggedSentence
}

func newSpanSource(exp *config.Experiment) *spanSource {
	return &spanSource{exp: exp}
}

func (s *spanSource) setTokenizer(tok encoder.Tokenizer) {
	s.tok = tok
}

func (s *spanSource) read(dir, path string) ([]corpus.TaggedSentence, error) {
	if path == "" {
		return nil, nil
	}
	sentences, err := corpus.LoadSentences(resolve(dir, path))
	if err != nil {
		return nil, err
	}
	return preprocessing.ShapeSentences(sentences, s.exp.MaxLen)
}

func (s *spanSource) load(dir string) error {
	var err error
	if s.dev, err = s.read(dir, s.exp.Data.Dev); err != nil {
		return err
	}
	if s.test, err = s.read(dir, s.exp.Data.Test); err != nil {
		return err
	}
	if s.testNews, err = s.read(dir, s.exp.Data.TestNews); err != nil {
		return err
	}
	if len(s.dev) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "no training sentences")
	}
	return nil
}

func (s *spanSource) vocabTexts() []string {
	out := make([]string, len(s.dev))
	for i, sent := range s.dev {
		out[i] = strings.Join(sent.Tokens, " ")
	}
	return out
}

func (s *spanSource) prepare(rc *repro.Context, subsetLen int, logger log.Logger) (*dataset.Dataset, *dataset.Dataset, error) {
	sentences := s.dev
	if subsetLen > 0 && subsetLen < len(sentences) {
		sentences = sentences[:subsetLen]
	}
	train, val, err := preprocessing.TrainTestSplit(sentences, s.exp.ValSize, rc.Stream(repro.StreamSplit))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("sentences split", log.SplitKey, "train", log.SamplesKey, len(train))
	logger.Info("sentences split", log.SplitKey, "val", log.SamplesKey, len(val))

	trainDS, err := dataset.NewTaggingDataset(s.tok, train, s.exp.MaxLen)
	if err != nil {
		return nil, nil, errors.Wrap(err, "train dataset")
	}
	valDS, err := dataset.NewTaggingDataset(s.tok, val, s.exp.MaxLen)
	if err != nil {
		return nil, nil, errors.Wrap(err, "validation dataset")
	}
	return trainDS, valDS, nil
}

func (s *spanSource) tests(logger log.Logger) ([]NamedSet, error) {
	var out []NamedSet
	for _, set := range []struct {
		name      string
		sentences []corpus.TaggedSentence
	}{{"test", s.test}, {"test_news", s.testNews}} {
		if len(set.sentences) == 0 {
			continue
		}
		ds, err := dataset.NewTaggingDataset(s.tok, set.sentences, s.exp.MaxLen)
		if err != nil {
			return nil, errors.Wrapf(err, "%s dataset", set.name)
		}
		logger.Info("test split", log.SplitKey, set.name, log.SamplesKey, ds.Len())
		out = append(out, NamedSet{Name: set.name, Dataset: ds})
	}
	if len(out) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no test split")
	}
	return out, nil
}
