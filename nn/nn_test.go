package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

func TestBCEWithLogits(t *testing.T) {
	tests := []struct {
		name      string
		logits    []float64
		targets   []float64
		posWeight float64
		wantLoss  float64
		wantGrad  []float64
	}{
		{
			name:      "zero logits unweighted",
			logits:    []float64{0, 0},
			targets:   []float64{0, 1},
			posWeight: 1,
			wantLoss:  math.Ln2,
			wantGrad:  []float64{0.25, -0.25},
		},
		{
			name:      "zero logits weighted positives",
			logits:    []float64{0, 0},
			targets:   []float64{0, 1},
			posWeight: 2,
			wantLoss:  1.5 * math.Ln2,
			wantGrad:  []float64{0.25, -0.5},
		},
		{
			name:      "confident and correct",
			logits:    []float64{-50, 50},
			targets:   []float64{0, 1},
			posWeight: 1.5,
			wantLoss:  0,
			wantGrad:  []float64{0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logits := mat.NewDense(len(tt.logits), 1, tt.logits)
			loss, grad, err := BCEWithLogits(logits, tt.targets, tt.posWeight)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(loss-tt.wantLoss) > 1e-9 {
				t.Errorf("loss = %v, want %v", loss, tt.wantLoss)
			}
			for i, want := range tt.wantGrad {
				if math.Abs(grad.At(i, 0)-want) > 1e-9 {
					t.Errorf("grad[%d] = %v, want %v", i, grad.At(i, 0), want)
				}
			}
		})
	}
}

func TestBCEWithLogitsShape(t *testing.T) {
	_, _, err := BCEWithLogits(mat.NewDense(2, 1, nil), []float64{1}, 1)
	var dimErr *errors.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
}

func TestCrossEntropy(t *testing.T) {
	logits := mat.NewDense(2, 4, nil)
	loss, grad, err := CrossEntropy(logits, []int{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-12 {
		t.Errorf("loss = %v, want ln 4", loss)
	}
	want := [][]float64{
		{0.125, -0.375, 0.125, 0.125},
		{0.125, 0.125, 0.125, -0.375},
	}
	for i := range want {
		for j := range want[i] {
			if math.Abs(grad.At(i, j)-want[i][j]) > 1e-12 {
				t.Errorf("grad[%d][%d] = %v, want %v", i, j, grad.At(i, j), want[i][j])
			}
		}
	}

	if _, _, err := CrossEntropy(logits, []int{0, 4}); err == nil {
		t.Error("expected error for target outside the class range")
	}
}

// numericGrad perturbs every element of p and measures f.
func numericGrad(p *mat.Dense, f func() float64) *mat.Dense {
	const h = 1e-6
	r, c := p.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := p.At(i, j)
			p.Set(i, j, orig+h)
			up := f()
			p.Set(i, j, orig-h)
			down := f()
			p.Set(i, j, orig)
			out.Set(i, j, (up-down)/(2*h))
		}
	}
	return out
}

func assertClose(t *testing.T, name string, got, want *mat.Dense, tol float64) {
	t.Helper()
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("%s mismatch\n got: %v\nwant: %v", name, mat.Formatted(got), mat.Formatted(want))
	}
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	lin := NewLinear("head", 3, 4, rng)
	x := mat.NewDense(2, 3, []float64{0.1, -0.2, 0.3, 0.5, 0.4, -0.6})
	targets := []int{2, 0}

	loss := func() float64 {
		y, _ := lin.Forward(x)
		l, _, _ := CrossEntropy(y, targets)
		return l
	}

	y, err := lin.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	_, dy, _ := CrossEntropy(y, targets)
	dx, err := lin.Backward(x, dy)
	if err != nil {
		t.Fatal(err)
	}

	assertClose(t, "dW", lin.W.Grad, numericGrad(lin.W.Value, loss), 1e-6)
	assertClose(t, "dB", lin.B.Grad, numericGrad(lin.B.Value, loss), 1e-6)
	assertClose(t, "dx", dx, numericGrad(x, loss), 1e-6)
}

func TestLinearDimensionMismatch(t *testing.T) {
	lin := NewLinear("head", 3, 1, rand.New(rand.NewPCG(1, 1)))
	if _, err := lin.Forward(mat.NewDense(2, 2, nil)); err == nil {
		t.Error("expected dimension error")
	}
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	x := mat.NewDense(4, 5, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 5; j++ {
			x.Set(i, j, float64(i*5+j+1))
		}
	}

	t.Run("evaluation is identity", func(t *testing.T) {
		d, _ := NewDropout(0.5, rng)
		d.SetTraining(false)
		y, mask := d.Forward(x)
		if y != x || mask != nil {
			t.Error("evaluation mode must return the input unchanged")
		}
	})

	t.Run("training scales survivors", func(t *testing.T) {
		d, _ := NewDropout(0.5, rng)
		y, mask := d.Forward(x)
		if mask == nil {
			t.Fatal("expected a mask in training mode")
		}
		for i := 0; i < 4; i++ {
			for j := 0; j < 5; j++ {
				m := mask.At(i, j)
				if m != 0 && m != 2 {
					t.Fatalf("mask value %v not in {0, 2}", m)
				}
				if y.At(i, j) != x.At(i, j)*m {
					t.Fatalf("output %v != input*mask", y.At(i, j))
				}
			}
		}
		dx := d.Backward(mat.NewDense(4, 5, nil), mask)
		if r, c := dx.Dims(); r != 4 || c != 5 {
			t.Errorf("backward shape %dx%d", r, c)
		}
	})

	t.Run("invalid rate", func(t *testing.T) {
		for _, rate := range []float64{-0.1, 1, 1.5} {
			if _, err := NewDropout(rate, rng); err == nil {
				t.Errorf("rate %v accepted", rate)
			}
		}
	})
}

func TestAdamFirstStep(t *testing.T) {
	p := NewParameter("w", 1, 2)
	p.Value.Set(0, 0, 1)
	p.Value.Set(0, 1, 1)
	p.Grad.Set(0, 0, 0.5)
	p.Grad.Set(0, 1, -2)

	opt := NewAdam(0.1)
	if err := opt.Step([]*Parameter{p}); err != nil {
		t.Fatal(err)
	}

	// The first bias-corrected step moves each weight by lr·sign(g).
	if math.Abs(p.Value.At(0, 0)-0.9) > 1e-6 || math.Abs(p.Value.At(0, 1)-1.1) > 1e-6 {
		t.Errorf("unexpected weights %v", mat.Formatted(p.Value))
	}
	if GradNorm([]*Parameter{p}) != 0 {
		t.Error("gradients must be cleared after a step")
	}
	if opt.Steps() != 1 {
		t.Errorf("Steps() = %d", opt.Steps())
	}

	if err := NewAdam(0).Step([]*Parameter{p}); err == nil {
		t.Error("expected error for non-positive learning rate")
	}
}
