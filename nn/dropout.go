package nn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Dropout zeroes each activation with probability Rate during training and
// scales the survivors by 1/(1-Rate). In evaluation mode it is the identity.
type Dropout struct {
	Rate     float64
	rng      *rand.Rand
	training bool
}

// NewDropout validates rate and returns a layer in training mode.
func NewDropout(rate float64, rng *rand.Rand) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, errors.NewValidationError("dropout_rate", "must be in [0, 1)", rate)
	}
	return &Dropout{Rate: rate, rng: rng, training: true}, nil
}

// SetTraining switches between training and evaluation behaviour.
func (d *Dropout) SetTraining(on bool) {
	d.training = on
}

// Training reports the current mode.
func (d *Dropout) Training() bool {
	return d.training
}

// Forward returns the dropped-out activations and the mask to pass to
// Backward. The mask is nil when nothing was dropped.
func (d *Dropout) Forward(x *mat.Dense) (*mat.Dense, *mat.Dense) {
	if !d.training || d.Rate == 0 {
		return x, nil
	}
	r, c := x.Dims()
	mask := mat.NewDense(r, c, nil)
	keep := 1 / (1 - d.Rate)
	m := data(mask)
	for i := range m {
		if d.rng.Float64() >= d.Rate {
			m[i] = keep
		}
	}
	var y mat.Dense
	y.MulElem(x, mask)
	return &y, mask
}

// Backward applies the mask recorded by Forward to dy.
func (d *Dropout) Backward(dy, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return dy
	}
	var dx mat.Dense
	dx.MulElem(dy, mask)
	return &dx
}
