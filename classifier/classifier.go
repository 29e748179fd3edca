// Package classifier pairs an encoder with a dropout + linear head. Both
// concrete pairings implement model.Module so one training loop fits them.
package classifier

import (
	"math/rand/v2"
	"strconv"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Pooling selects the sequence summary fed to a SequenceClassifier head.
type Pooling int

const (
	// PoolerOutput uses the encoder's pooled output.
	PoolerOutput Pooling = iota
	// MeanTokens averages the per-token outputs over every position,
	// padding included.
	MeanTokens
)

func (p Pooling) String() string {
	if p == MeanTokens {
		return "mean"
	}
	return "pooler"
}

// ParsePooling accepts "pooler" and "mean".
func ParsePooling(s string) (Pooling, error) {
	switch s {
	case "", "pooler":
		return PoolerOutput, nil
	case "mean":
		return MeanTokens, nil
	default:
		return 0, errors.NewValidationError("pooling", "must be pooler or mean", s)
	}
}

// Option configures a classifier.
type Option func(*options)

type options struct {
	pooling     Pooling
	encoderName string
}

// WithPooling sets the sequence summary. Ignored by TokenClassifier.
func WithPooling(p Pooling) Option {
	return func(o *options) { o.pooling = p }
}

// WithEncoderName records the encoder name in checkpoints.
func WithEncoderName(name string) Option {
	return func(o *options) { o.encoderName = name }
}

// head is the part both classifiers share.
type head struct {
	enc     encoder.Encoder
	dropout *nn.Dropout
	linear  *nn.Linear
	state   *model.StateManager
	opts    options
}

func newHead(enc encoder.Encoder, dropout float64, out int, rng *rand.Rand, name string, opts []Option) (*head, error) {
	if enc == nil {
		return nil, errors.NewValidationError("encoder", "must not be nil", nil)
	}
	d, err := nn.NewDropout(dropout, rng)
	if err != nil {
		return nil, err
	}
	h := &head{
		enc:     enc,
		dropout: d,
		linear:  nn.NewLinear(name, enc.HiddenSize(), out, rng),
		state:   model.NewStateManager(),
	}
	for _, o := range opts {
		o(&h.opts)
	}
	return h, nil
}

func (h *head) parameters() []*nn.Parameter {
	return append(h.enc.Parameters(), h.linear.Parameters()...)
}

// State exposes the fitted-state tracker to the training loop.
func (h *head) State() *model.StateManager {
	return h.state
}

// DropoutRate is the head's dropout probability.
func (h *head) DropoutRate() float64 {
	return h.dropout.Rate
}

// SetTraining toggles dropout.
func (h *head) SetTraining(on bool) {
	h.dropout.SetTraining(on)
}

func (h *head) snapshot(modelType string, extra map[string]float64) *model.Checkpoint {
	c := model.Snapshot(modelType, h.parameters())
	c.Hyperparameters["dropout"] = h.dropout.Rate
	c.Hyperparameters["hidden_size"] = float64(h.enc.HiddenSize())
	c.Hyperparameters["num_outputs"] = float64(h.linear.Out)
	for k, v := range extra {
		c.Hyperparameters[k] = v
	}
	c.Meta["encoder"] = h.opts.encoderName
	c.Meta["num_parameters"] = strconv.Itoa(nn.CountParameters(h.parameters()))
	c.State = h.state.GetState()
	return c
}

func (h *head) restore(modelType string, c *model.Checkpoint) error {
	if c.ModelType != modelType {
		return errors.NewValueError("Restore", "checkpoint holds a "+c.ModelType+", not a "+modelType)
	}
	if err := c.Restore(h.parameters()); err != nil {
		return err
	}
	h.state.SetState(c.State)
	return nil
}

func (h *head) save(modelType string, extra map[string]float64, path string) error {
	return model.SaveCheckpoint(h.snapshot(modelType, extra), path)
}

func (h *head) load(modelType, path string) error {
	c, err := model.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	return h.restore(modelType, c)
}
