package preprocessing

import (
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// TrainTestSplit shuffles items with rng and cuts off ceil(testSize·n) of
// them as the test part, like scikit-learn's train_test_split with a float
// test_size.
func TrainTestSplit[T any](items []T, testSize float64, rng *rand.Rand) (train, test []T, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	n := len(items)
	nTest := int(math.Ceil(testSize * float64(n)))
	if n == 0 || nTest == 0 || nTest >= n {
		return nil, nil, errors.Wrapf(errors.ErrEmptyData, "cannot split %d items with test_size=%g", n, testSize)
	}

	perm := rng.Perm(n)
	test = make([]T, 0, nTest)
	train = make([]T, 0, n-nTest)
	for i, j := range perm {
		if i < nTest {
			test = append(test, items[j])
		} else {
			train = append(train, items[j])
		}
	}
	return train, test, nil
}

// Sample draws min(n, len(items)) items without replacement. n <= 0 returns
// items unchanged.
func Sample[T any](items []T, n int, rng *rand.Rand) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	perm := rng.Perm(len(items))
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = items[perm[i]]
	}
	return out
}

// ThreeWaySplit holds out valSize then splits the held-out part in half,
// test taking testShare of it. With valSize 0.4 and testShare 0.5 this is the
// 60/20/20 partition used for corpora without official splits.
func ThreeWaySplit[T any](items []T, holdOut, testShare float64, rng *rand.Rand) (train, val, test []T, err error) {
	train, rest, err := TrainTestSplit(items, holdOut, rng)
	if err != nil {
		return nil, nil, nil, err
	}
	val, test, err = TrainTestSplit(rest, testShare, rng)
	if err != nil {
		return nil, nil, nil, err
	}
	return train, val, test, nil
}
