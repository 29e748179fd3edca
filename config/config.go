// Package config loads YAML experiment files. Every field a file omits keeps
// the value of Default for the file's task.
package config

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/pkg/log"
)

// Task names.
const (
	TaskItalianHS         = "it-hs"
	TaskItalianStereotype = "it-stereotype"
	TaskItalianSpan       = "it-span"
	TaskSpanishHS         = "es-hs"
	TaskGermanHS          = "de-hs"
)

// Tasks lists every known task in a stable order.
func Tasks() []string {
	return []string{TaskItalianHS, TaskItalianStereotype, TaskItalianSpan, TaskSpanishHS, TaskGermanHS}
}

// Data points at the corpus files of a task. Dev is split into train and
// validation when Train is empty.
type Data struct {
	Dev      string `yaml:"dev"`
	Train    string `yaml:"train"`
	Val      string `yaml:"val"`
	Test     string `yaml:"test"`
	TestNews string `yaml:"test_news"`
}

// Final is the configuration of the fit that follows the search.
type Final struct {
	Seed      int64   `yaml:"seed"`
	BatchSize int     `yaml:"batch_size"`
	Dropout   float64 `yaml:"dropout"`
	MaxEpochs int     `yaml:"max_epochs"`
	SubsetLen int     `yaml:"subset_len"`
}

// Encoder sizes the encoder and its vocabulary.
type Encoder struct {
	HiddenSize int     `yaml:"hidden_size"`
	MinCount   int     `yaml:"min_count"`
	MaxWords   int     `yaml:"max_words"`
	Vocab      string  `yaml:"vocab"`
	InitStd    float64 `yaml:"init_std"`
	Pooling    string  `yaml:"pooling"`
}

// Output controls where results go.
type Output struct {
	Dir        string `yaml:"dir"`
	Store      string `yaml:"store"`
	Plots      bool   `yaml:"plots"`
	Checkpoint string `yaml:"checkpoint"`
}

// Experiment is one experiment file.
type Experiment struct {
	Task            string          `yaml:"task"`
	Language        string          `yaml:"language"`
	Data            Data            `yaml:"data"`
	MaxLen          int             `yaml:"max_len"`
	SubsetLen       int             `yaml:"subset_len"`
	ValSize         float64         `yaml:"val_size"`
	TestShare       float64         `yaml:"test_share"`
	MaxEpochs       int             `yaml:"max_epochs"`
	LearningRate    float64         `yaml:"learning_rate"`
	ClassWeight     float64         `yaml:"class_weight"`
	Grid            gridsearch.Grid `yaml:"grid"`
	Final           Final           `yaml:"final"`
	Encoder         Encoder         `yaml:"encoder"`
	Output          Output          `yaml:"output"`
	Device          string          `yaml:"device"`
	LogLevel        string          `yaml:"log_level"`
	ContinueOnError bool            `yaml:"continue_on_error"`
}

// Default returns the settings used for task.
func Default(task string) (*Experiment, error) {
	e := &Experiment{
		Task:         task,
		MaxLen:       256,
		SubsetLen:    2500,
		ValSize:      0.2,
		MaxEpochs:    20,
		LearningRate: 1e-5,
		Grid:         gridsearch.DefaultGrid(),
		Encoder:      Encoder{HiddenSize: 64, MinCount: 1, MaxWords: 30000, InitStd: 0.02, Pooling: "pooler"},
		Output:       Output{Dir: "out", Store: "haspeede.db", Plots: true, Checkpoint: "model.gob"},
		Device:       string(repro.CPU),
		LogLevel:     "info",
	}
	switch task {
	case TaskItalianHS, TaskItalianStereotype:
		e.Language = string(corpus.Italian)
		e.Data = Data{
			Dev:      "haspeede2_dev/haspeede2_dev_taskAB.tsv",
			Test:     "haspeede2_reference/haspeede2_reference_taskAB-tweets.tsv",
			TestNews: "haspeede2_reference/haspeede2_reference_taskAB-news.tsv",
		}
		e.ClassWeight = 1.5
		e.Final = Final{Seed: 42, BatchSize: 32, Dropout: 0.3, MaxEpochs: 2}
		if task == TaskItalianStereotype {
			e.ClassWeight = 1.25
			e.Final.Dropout = 0.8
		}
	case TaskItalianSpan:
		e.Language = string(corpus.Italian)
		e.Data = Data{
			Dev:      "haspeede2_dev/haspeede2_dev_taskC.txt",
			Test:     "haspeede2_reference/haspeede2_reference_taskC-tweets.txt",
			TestNews: "haspeede2_reference/haspeede2_reference_taskC-news.txt",
		}
		e.MaxLen = 140
		e.Final = Final{Seed: 12321, BatchSize: 64, Dropout: 0.2, MaxEpochs: 40}
	case TaskSpanishHS:
		e.Language = string(corpus.Spanish)
		e.Data = Data{
			Train: "haspeede_spanish/hateval2019_es_train.csv",
			Val:   "haspeede_spanish/hateval2019_es_dev.csv",
			Test:  "haspeede_spanish/hateval2019_es_test.csv",
		}
		e.SubsetLen = 0
		e.ClassWeight = 1.4
		e.Encoder.Pooling = "mean"
		e.Final = Final{Seed: 12321, BatchSize: 32, Dropout: 0.5, MaxEpochs: 10}
	case TaskGermanHS:
		e.Language = string(corpus.German)
		e.Data = Data{Dev: "IWG_hatespeech_public/german hatespeech refugees.csv"}
		e.ValSize = 0.4
		e.TestShare = 0.5
		e.ClassWeight = 2.8
		e.Final = Final{Seed: 12321, BatchSize: 64, Dropout: 0.2, MaxEpochs: 20}
	default:
		return nil, errors.NewValidationError("task", "unknown task", task)
	}
	return e, nil
}

// Read decodes an experiment from r on top of the defaults of its task.
func Read(r io.Reader) (*Experiment, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read experiment")
	}
	var head struct {
		Task string `yaml:"task"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return nil, errors.Wrap(err, "decode experiment")
	}
	e, err := Default(head.Task)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(e); err != nil {
		return nil, errors.Wrap(err, "decode experiment")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Load reads and validates the experiment file at path.
func Load(path string) (*Experiment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return Read(f)
}

// Write encodes e as YAML.
func (e *Experiment) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(e); err != nil {
		return errors.Wrap(err, "encode experiment")
	}
	return enc.Close()
}

// IsSpan reports whether the task is token tagging.
func (e *Experiment) IsSpan() bool {
	return e.Task == TaskItalianSpan
}

// Validate fails fast on settings that would only break once training runs.
func (e *Experiment) Validate() error {
	if _, err := corpus.ParseLanguage(e.Language); err != nil {
		return errors.NewValidationError("language", err.Error(), e.Language)
	}
	if _, err := repro.ParseDevice(e.Device); err != nil {
		return err
	}
	if _, err := log.ParseLevel(e.LogLevel); err != nil {
		return errors.NewValidationError("log_level", "unknown level", e.LogLevel)
	}
	switch {
	case e.Data.Dev == "" && (e.Data.Train == "" || e.Data.Val == ""):
		return errors.NewValidationError("data", "either dev or train and val are required", e.Data)
	case e.MaxLen < 2:
		return errors.NewValidationError("max_len", "must be at least 2", e.MaxLen)
	case e.SubsetLen < 0:
		return errors.NewValidationError("subset_len", "must not be negative", e.SubsetLen)
	case e.Data.Dev != "" && (e.ValSize <= 0 || e.ValSize >= 1):
		return errors.NewValidationError("val_size", "must be in (0, 1)", e.ValSize)
	case e.TestShare < 0 || e.TestShare >= 1:
		return errors.NewValidationError("test_share", "must be in [0, 1)", e.TestShare)
	case e.MaxEpochs <= 0:
		return errors.NewValidationError("max_epochs", "must be positive", e.MaxEpochs)
	case e.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be positive", e.LearningRate)
	case e.ClassWeight < 0:
		return errors.NewValidationError("class_weight", "must not be negative", e.ClassWeight)
	case e.Final.BatchSize <= 0:
		return errors.NewValidationError("final.batch_size", "must be positive", e.Final.BatchSize)
	case e.Final.Dropout < 0 || e.Final.Dropout >= 1:
		return errors.NewValidationError("final.dropout", "must be in [0, 1)", e.Final.Dropout)
	case e.Final.MaxEpochs <= 0:
		return errors.NewValidationError("final.max_epochs", "must be positive", e.Final.MaxEpochs)
	case e.Encoder.HiddenSize <= 0:
		return errors.NewValidationError("encoder.hidden_size", "must be positive", e.Encoder.HiddenSize)
	}
	return e.Grid.Validate()
}
