package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// BCEWithLogits is the mean binary cross-entropy of sigmoid(logits) against
// targets in {0, 1}. posWeight multiplies the loss of positive targets; pass 1
// for the unweighted loss. logits must be n×1.
//
// It returns the loss and its gradient with respect to logits.
func BCEWithLogits(logits *mat.Dense, targets []float64, posWeight float64) (float64, *mat.Dense, error) {
	n, c := logits.Dims()
	if c != 1 {
		return 0, nil, errors.NewDimensionError("BCEWithLogits", 1, c, 1)
	}
	if len(targets) != n {
		return 0, nil, errors.NewDimensionError("BCEWithLogits", n, len(targets), 0)
	}
	grad := mat.NewDense(n, 1, nil)
	var loss float64
	for i := 0; i < n; i++ {
		x, y := logits.At(i, 0), targets[i]
		// -[w·y·log σ(x) + (1-y)·log(1-σ(x))]
		loss += posWeight*y*errors.Softplus(-x) + (1-y)*errors.Softplus(x)
		s := errors.Sigmoid(x)
		grad.Set(i, 0, (posWeight*y*(s-1)+(1-y)*s)/float64(n))
	}
	return loss / float64(n), grad, nil
}

// CrossEntropy is the mean categorical cross-entropy of softmax(logits)
// against class indices, one row per position. It returns the loss and its
// gradient with respect to logits.
func CrossEntropy(logits *mat.Dense, targets []int) (float64, *mat.Dense, error) {
	n, c := logits.Dims()
	if len(targets) != n {
		return 0, nil, errors.NewDimensionError("CrossEntropy", n, len(targets), 0)
	}
	grad := mat.NewDense(n, c, nil)
	var loss float64
	for i := 0; i < n; i++ {
		t := targets[i]
		if t < 0 || t >= c {
			return 0, nil, errors.NewValueError("CrossEntropy", "target class out of range")
		}
		row := logits.RawRowView(i)
		lse := errors.LogSumExp(row)
		loss += lse - row[t]
		g := grad.RawRowView(i)
		for j, v := range row {
			g[j] = math.Exp(v-lse) / float64(n)
		}
		g[t] -= 1 / float64(n)
	}
	return loss / float64(n), grad, nil
}
