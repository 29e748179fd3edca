package classifier

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// TokenModelType names TokenClassifier checkpoints.
const TokenModelType = "TokenClassifier"

// TokenClassifier maps every position to numTags logits.
type TokenClassifier struct {
	*head

	numTags int
	last    *tokCache
}

type tokCache struct {
	x    *mat.Dense
	mask *mat.Dense
}

// NewTokenClassifier builds a per-position head with numTags outputs.
func NewTokenClassifier(enc encoder.Encoder, dropout float64, numTags int, rng *rand.Rand, opts ...Option) (*TokenClassifier, error) {
	if numTags < 2 {
		return nil, errors.NewValidationError("num_tags", "must be at least 2", numTags)
	}
	h, err := newHead(enc, dropout, numTags, rng, "classifier", opts)
	if err != nil {
		return nil, err
	}
	return &TokenClassifier{head: h, numTags: numTags}, nil
}

// NumTags is the number of output classes per position.
func (tc *TokenClassifier) NumTags() int {
	return tc.numTags
}

// Parameters returns encoder and head parameters.
func (tc *TokenClassifier) Parameters() []*nn.Parameter {
	return tc.parameters()
}

// Forward returns (n·seqLen)×numTags logits, sequence-major.
func (tc *TokenClassifier) Forward(in model.Inputs) (*mat.Dense, error) {
	out, err := tc.enc.Forward(in)
	if err != nil {
		return nil, err
	}
	x, mask := tc.dropout.Forward(out.Tokens)
	logits, err := tc.linear.Forward(x)
	if err != nil {
		return nil, err
	}
	tc.last = &tokCache{x: x, mask: mask}
	return logits, nil
}

// Backward propagates dLogits through the head into the encoder.
func (tc *TokenClassifier) Backward(dLogits *mat.Dense) error {
	c := tc.last
	if c == nil {
		return errors.NewModelError("TokenClassifier.Backward", "no forward pass to differentiate", nil)
	}
	dx, err := tc.linear.Backward(c.x, dLogits)
	if err != nil {
		return err
	}
	return tc.enc.Backward(tc.dropout.Backward(dx, c.mask), nil)
}

// Checkpoint captures the current weights and fitted state.
func (tc *TokenClassifier) Checkpoint() *model.Checkpoint {
	return tc.snapshot(TokenModelType, nil)
}

// Restore loads weights from a checkpoint.
func (tc *TokenClassifier) Restore(c *model.Checkpoint) error {
	return tc.restore(TokenModelType, c)
}

// Save writes a gob checkpoint to path.
func (tc *TokenClassifier) Save(path string) error {
	return tc.save(TokenModelType, nil, path)
}

// Load restores weights saved with Save.
func (tc *TokenClassifier) Load(path string) error {
	return tc.load(TokenModelType, path)
}
