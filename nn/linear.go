package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Linear computes y = x·Wᵀ + b for a batch of row vectors.
type Linear struct {
	In, Out int
	W       *Parameter // Out×In
	B       *Parameter // 1×Out
}

// NewLinear creates a layer initialised with U(-1/√in, 1/√in), the same
// default range PyTorch uses for nn.Linear.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   NewParameter(name+".weight", out, in),
		B:   NewParameter(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	InitUniform(l.W, bound, rng)
	InitUniform(l.B, bound, rng)
	return l
}

// Parameters returns the weight and the bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.W, l.B}
}

// Forward maps x (n×In) to n×Out.
func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	n, in := x.Dims()
	if in != l.In {
		return nil, errors.NewDimensionError("Linear.Forward", l.In, in, 1)
	}
	y := mat.NewDense(n, l.Out, nil)
	y.Mul(x, l.W.Value.T())
	b := l.B.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
	return y, nil
}

// Backward accumulates dW and dB for the input x that produced the output
// whose gradient is dy, and returns dx.
func (l *Linear) Backward(x, dy *mat.Dense) (*mat.Dense, error) {
	n, out := dy.Dims()
	if out != l.Out {
		return nil, errors.NewDimensionError("Linear.Backward", l.Out, out, 1)
	}
	if xr, _ := x.Dims(); xr != n {
		return nil, errors.NewDimensionError("Linear.Backward", xr, n, 0)
	}

	var dW mat.Dense
	dW.Mul(dy.T(), x)
	l.W.Grad.Add(l.W.Grad, &dW)

	db := l.B.Grad.RawRowView(0)
	for i := 0; i < n; i++ {
		for j, v := range dy.RawRowView(i) {
			db[j] += v
		}
	}

	dx := mat.NewDense(n, l.In, nil)
	dx.Mul(dy, l.W.Value)
	return dx, nil
}
