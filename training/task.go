package training

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Task is the loss and decoding contract of one problem formulation. labels
// holds one row per example as produced by the dataset package.
type Task interface {
	Name() string
	// TrainLoss returns the training loss and its gradient w.r.t. logits.
	TrainLoss(logits *mat.Dense, labels [][]int) (float64, *mat.Dense, error)
	// EvalLoss returns the loss used during evaluation.
	EvalLoss(logits *mat.Dense, labels [][]int) (float64, error)
	// Decode turns logits for n examples into one prediction row per example.
	Decode(logits *mat.Dense, n int) [][]int
	// ReportLabels are the classes scored by the evaluation report.
	ReportLabels() []int
}

// BinaryTask is binary sequence classification with BCE-with-logits. The
// positive weight only applies while training.
type BinaryTask struct {
	PosWeight float64
}

// Name implements Task.
func (BinaryTask) Name() string { return "binary" }

func (t BinaryTask) posWeight() float64 {
	if t.PosWeight <= 0 {
		return 1
	}
	return t.PosWeight
}

func binaryTargets(labels [][]int) []float64 {
	out := make([]float64, len(labels))
	for i, row := range labels {
		out[i] = float64(row[0])
	}
	return out
}

// TrainLoss implements Task.
func (t BinaryTask) TrainLoss(logits *mat.Dense, labels [][]int) (float64, *mat.Dense, error) {
	return nn.BCEWithLogits(logits, binaryTargets(labels), t.posWeight())
}

// EvalLoss implements Task. The positive weight is dropped.
func (t BinaryTask) EvalLoss(logits *mat.Dense, labels [][]int) (float64, error) {
	loss, _, err := nn.BCEWithLogits(logits, binaryTargets(labels), 1)
	return loss, err
}

// Decode thresholds sigmoid(logit) at 0.5.
func (BinaryTask) Decode(logits *mat.Dense, n int) [][]int {
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		p := 0
		if errors.Sigmoid(logits.At(i, 0)) > 0.5 {
			p = 1
		}
		out[i] = []int{p}
	}
	return out
}

// ReportLabels implements Task.
func (BinaryTask) ReportLabels() []int { return []int{0, 1} }

// TaggingTask is per-position classification with categorical cross-entropy
// over every position, padding included.
type TaggingTask struct {
	NumTags int
}

// NewTaggingTask returns the task over the O/B/I/PAD vocabulary.
func NewTaggingTask() TaggingTask {
	return TaggingTask{NumTags: corpus.NumTags}
}

// Name implements Task.
func (TaggingTask) Name() string { return "tagging" }

func flatten(labels [][]int) []int {
	var out []int
	for _, row := range labels {
		out = append(out, row...)
	}
	return out
}

// TrainLoss implements Task.
func (t TaggingTask) TrainLoss(logits *mat.Dense, labels [][]int) (float64, *mat.Dense, error) {
	if _, c := logits.Dims(); c != t.NumTags {
		return 0, nil, errors.NewDimensionError("TaggingTask.TrainLoss", t.NumTags, c, 1)
	}
	return nn.CrossEntropy(logits, flatten(labels))
}

// EvalLoss implements Task. There is no class weighting at any stage.
func (t TaggingTask) EvalLoss(logits *mat.Dense, labels [][]int) (float64, error) {
	loss, _, err := t.TrainLoss(logits, labels)
	return loss, err
}

// Decode takes the arg-max tag at every position.
func (TaggingTask) Decode(logits *mat.Dense, n int) [][]int {
	rows, _ := logits.Dims()
	seqLen := rows / n
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		tags := make([]int, seqLen)
		for t := 0; t < seqLen; t++ {
			row := logits.RawRowView(i*seqLen + t)
			best := 0
			for k, v := range row {
				if v > row[best] {
					best = k
				}
			}
			tags[t] = best
		}
		out[i] = tags
	}
	return out
}

// ReportLabels scores Begin and Inside only.
func (TaggingTask) ReportLabels() []int {
	return []int{int(corpus.Begin), int(corpus.Inside)}
}
