package dataset

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Batch is one group of examples. Index holds the position of every row in
// the source dataset.
type Batch struct {
	Inputs model.Inputs
	Labels [][]int
	Index  []int
}

// Len is the number of examples in the batch.
func (b Batch) Len() int {
	return len(b.Index)
}

// Loader cuts a Dataset into batches of at most BatchSize examples. A
// shuffled loader draws a fresh permutation for every epoch; a sequential
// one always yields the dataset order.
type Loader struct {
	ds        *Dataset
	batchSize int
	rng       *rand.Rand
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// Shuffled visits examples in a random order drawn from rng.
func Shuffled(rng *rand.Rand) LoaderOption {
	return func(l *Loader) { l.rng = rng }
}

// NewLoader validates the batch size and returns a sequential loader unless
// Shuffled is given.
func NewLoader(ds *Dataset, batchSize int, opts ...LoaderOption) (*Loader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "loader")
	}
	if batchSize <= 0 {
		return nil, errors.NewValidationError("batch_size", "must be positive", batchSize)
	}
	if len(ds.Labels) != ds.Len() {
		return nil, errors.NewDimensionError("NewLoader", ds.Len(), len(ds.Labels), 0)
	}
	l := &Loader{ds: ds, batchSize: batchSize}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset {
	return l.ds
}

// BatchSize is the maximum batch size.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// Shuffles reports whether the loader randomizes order.
func (l *Loader) Shuffles() bool {
	return l.rng != nil
}

// Len is the number of batches per epoch, ceil(n / batchSize).
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Epoch returns the batches of one pass. Every example appears in exactly
// one batch.
func (l *Loader) Epoch() []Batch {
	n := l.ds.Len()
	var order []int
	if l.rng != nil {
		order = l.rng.Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	batches := make([]Batch, 0, l.Len())
	for start := 0; start < n; start += l.batchSize {
		end := min(start+l.batchSize, n)
		idx := order[start:end]
		sub := l.ds.Subset(idx)
		batches = append(batches, Batch{Inputs: sub.Inputs, Labels: sub.Labels, Index: idx})
	}
	return batches
}
