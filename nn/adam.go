package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update and clears the gradients.
	Step(params []*Parameter) error
	// ZeroGrad clears the gradients without updating.
	ZeroGrad(params []*Parameter)
}

// Adam implements the bias-corrected Adam update. Moment estimates are kept
// per parameter, so a fresh Adam must be created for every training run.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t int
	m map[*Parameter]*mat.Dense
	v map[*Parameter]*mat.Dense
}

// AdamOption configures an Adam optimizer.
type AdamOption func(*Adam)

// WithBetas overrides the moment decay rates.
func WithBetas(beta1, beta2 float64) AdamOption {
	return func(a *Adam) {
		a.Beta1 = beta1
		a.Beta2 = beta2
	}
}

// WithEpsilon overrides the denominator term.
func WithEpsilon(eps float64) AdamOption {
	return func(a *Adam) {
		a.Eps = eps
	}
}

// NewAdam returns an optimizer with the usual defaults (0.9, 0.999, 1e-8).
func NewAdam(lr float64, opts ...AdamOption) *Adam {
	a := &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[*Parameter]*mat.Dense),
		v:     make(map[*Parameter]*mat.Dense),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.t
}

// Step implements Optimizer.
func (a *Adam) Step(params []*Parameter) error {
	if a.LR <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", a.LR)
	}
	a.t++
	b1Corr := 1 - math.Pow(a.Beta1, float64(a.t))
	b2Corr := 1 - math.Pow(a.Beta2, float64(a.t))

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			r, c := p.Value.Dims()
			m = mat.NewDense(r, c, nil)
			a.m[p] = m
			a.v[p] = mat.NewDense(r, c, nil)
		}
		md, vd := data(m), data(a.v[p])
		w, g := data(p.Value), data(p.Grad)
		for j := range w {
			md[j] = a.Beta1*md[j] + (1-a.Beta1)*g[j]
			vd[j] = a.Beta2*vd[j] + (1-a.Beta2)*g[j]*g[j]
			mhat := md[j] / b1Corr
			vhat := vd[j] / b2Corr
			w[j] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
			g[j] = 0
		}
	}
	return nil
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
