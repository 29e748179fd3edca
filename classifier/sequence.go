package classifier

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// SequenceModelType names SequenceClassifier checkpoints.
const SequenceModelType = "SequenceClassifier"

// SequenceClassifier maps a sequence summary to one logit per sequence.
type SequenceClassifier struct {
	*head

	last *seqCache
}

type seqCache struct {
	n, seqLen int
	x         *mat.Dense
	mask      *mat.Dense
}

// NewSequenceClassifier builds a binary head on enc.
func NewSequenceClassifier(enc encoder.Encoder, dropout float64, rng *rand.Rand, opts ...Option) (*SequenceClassifier, error) {
	h, err := newHead(enc, dropout, 1, rng, "head", opts)
	if err != nil {
		return nil, err
	}
	return &SequenceClassifier{head: h}, nil
}

// Pooling returns the configured sequence summary.
func (s *SequenceClassifier) Pooling() Pooling {
	return s.opts.pooling
}

// Parameters returns encoder and head parameters.
func (s *SequenceClassifier) Parameters() []*nn.Parameter {
	return s.parameters()
}

// Forward returns n×1 logits.
func (s *SequenceClassifier) Forward(in model.Inputs) (*mat.Dense, error) {
	out, err := s.enc.Forward(in)
	if err != nil {
		return nil, err
	}
	summary := out.Pooled
	if s.opts.pooling == MeanTokens {
		summary = meanRows(out.Tokens, in.Len(), out.SeqLen)
	}
	x, mask := s.dropout.Forward(summary)
	logits, err := s.linear.Forward(x)
	if err != nil {
		return nil, err
	}
	s.last = &seqCache{n: in.Len(), seqLen: out.SeqLen, x: x, mask: mask}
	return logits, nil
}

// Backward propagates dLogits (n×1) through the head into the encoder.
func (s *SequenceClassifier) Backward(dLogits *mat.Dense) error {
	c := s.last
	if c == nil {
		return errors.NewModelError("SequenceClassifier.Backward", "no forward pass to differentiate", nil)
	}
	dx, err := s.linear.Backward(c.x, dLogits)
	if err != nil {
		return err
	}
	dSummary := s.dropout.Backward(dx, c.mask)
	if s.opts.pooling == MeanTokens {
		return s.enc.Backward(spreadRows(dSummary, c.n, c.seqLen), nil)
	}
	return s.enc.Backward(nil, dSummary)
}

// Checkpoint captures the current weights and fitted state.
func (s *SequenceClassifier) Checkpoint() *model.Checkpoint {
	return s.snapshot(SequenceModelType, map[string]float64{"pooling": float64(s.opts.pooling)})
}

// Restore loads weights from a checkpoint.
func (s *SequenceClassifier) Restore(c *model.Checkpoint) error {
	return s.restore(SequenceModelType, c)
}

// Save writes a gob checkpoint to path.
func (s *SequenceClassifier) Save(path string) error {
	return s.save(SequenceModelType, map[string]float64{"pooling": float64(s.opts.pooling)}, path)
}

// Load restores weights saved with Save.
func (s *SequenceClassifier) Load(path string) error {
	return s.load(SequenceModelType, path)
}

// meanRows averages each block of seqLen rows of tokens.
func meanRows(tokens *mat.Dense, n, seqLen int) *mat.Dense {
	_, h := tokens.Dims()
	out := mat.NewDense(n, h, nil)
	for i := 0; i < n; i++ {
		dst := out.RawRowView(i)
		for t := 0; t < seqLen; t++ {
			for k, v := range tokens.RawRowView(i*seqLen + t) {
				dst[k] += v
			}
		}
		for k := range dst {
			dst[k] /= float64(seqLen)
		}
	}
	return out
}

func spreadRows(d *mat.Dense, n, seqLen int) *mat.Dense {
	_, h := d.Dims()
	out := mat.NewDense(n*seqLen, h, nil)
	for i := 0; i < n; i++ {
		src := d.RawRowView(i)
		for t := 0; t < seqLen; t++ {
			dst := out.RawRowView(i*seqLen + t)
			for k, v := range src {
				dst[k] = v / float64(seqLen)
			}
		}
	}
	return out
}
