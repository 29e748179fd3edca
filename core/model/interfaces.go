// Package model defines the capability every trainable classifier exposes to
// the training loop, together with fitted-state tracking and checkpoint
// persistence.
package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/nn"
)

// Inputs is a tokenized batch: token ids and the 0/1 attention mask, both
// batch×seqLen.
type Inputs struct {
	IDs  [][]int
	Mask [][]int
}

// Len is the number of sequences in the batch.
func (in Inputs) Len() int {
	return len(in.IDs)
}

// SeqLen is the padded sequence length, 0 for an empty batch.
func (in Inputs) SeqLen() int {
	if len(in.IDs) == 0 {
		return 0
	}
	return len(in.IDs[0])
}

// Slice returns the rows at idx, sharing the underlying rows.
func (in Inputs) Slice(idx []int) Inputs {
	out := Inputs{IDs: make([][]int, len(idx)), Mask: make([][]int, len(idx))}
	for i, j := range idx {
		out.IDs[i] = in.IDs[j]
		out.Mask[i] = in.Mask[j]
	}
	return out
}

// Module is a head+encoder pairing the training loop can fit.
//
// Forward returns one row of logits per sequence for sequence tasks (n×1) and
// one row per position for tagging tasks ((n·seqLen)×numTags, sequence-major).
// Backward consumes the gradient of the loss with respect to the logits of the
// most recent Forward and accumulates parameter gradients. In evaluation mode
// (SetTraining(false)) stochastic layers are disabled.
type Module interface {
	Parameters() []*nn.Parameter
	Forward(in Inputs) (*mat.Dense, error)
	Backward(dLogits *mat.Dense) error
	SetTraining(on bool)
}
