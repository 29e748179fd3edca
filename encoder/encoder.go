// Package encoder provides the text-encoder capability the classifiers sit
// on: a tokenizer turning strings into id/mask tensors and a trainable
// encoder turning those tensors into contextual embeddings.
package encoder

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/nn"
)

// Tokenizer turns text into padded id/mask batches.
type Tokenizer interface {
	// EncodeTexts encodes normalized texts with subword splitting, truncated
	// to maxLen and padded to the longest row or to maxLen.
	EncodeTexts(texts []string, maxLen int, padToMax bool) model.Inputs
	// EncodeSentences encodes pre-split words one id per word, padded to maxLen.
	EncodeSentences(sentences [][]string, maxLen int) model.Inputs
	VocabSize() int
}

// Output holds the embeddings of one forward pass.
type Output struct {
	// Tokens is (n·seqLen)×hidden, sequence-major.
	Tokens *mat.Dense
	// Pooled is n×hidden.
	Pooled *mat.Dense
	SeqLen int
}

// Encoder produces contextual embeddings and is fine-tuned together with the
// head on top of it.
type Encoder interface {
	Parameters() []*nn.Parameter
	HiddenSize() int
	Forward(in model.Inputs) (*Output, error)
	// Backward takes the gradients with respect to the Tokens and Pooled
	// outputs of the last Forward. Either may be nil.
	Backward(dTokens, dPooled *mat.Dense) error
}
