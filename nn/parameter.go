package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a trainable matrix together with its accumulated gradient.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter allocates a zero-valued rows×cols parameter.
func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Size is the number of scalar weights.
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// data exposes the contiguous backing slice of m. Matrices created by this
// package always have Stride == Cols.
func data(m *mat.Dense) []float64 {
	return m.RawMatrix().Data
}

// InitNormal fills p with N(0, std²) samples.
func InitNormal(p *Parameter, std float64, rng *rand.Rand) {
	d := data(p.Value)
	for i := range d {
		d[i] = rng.NormFloat64() * std
	}
}

// InitUniform fills p with U(-bound, bound) samples.
func InitUniform(p *Parameter, bound float64, rng *rand.Rand) {
	d := data(p.Value)
	for i := range d {
		d[i] = (rng.Float64()*2 - 1) * bound
	}
}

// CountParameters sums the sizes of params.
func CountParameters(params []*Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

// GradNorm returns the global L2 norm of the gradients of params.
func GradNorm(params []*Parameter) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range data(p.Grad) {
			sum += g * g
		}
	}
	return math.Sqrt(sum)
}
