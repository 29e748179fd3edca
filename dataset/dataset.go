// Package dataset turns corpus examples into tokenized tensors and serves
// them in batches.
package dataset

import (
	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/encoder"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Dataset is a tokenized split. Labels has one row per example: a single
// 0/1 label for sequence tasks, one tag id per position for tagging tasks.
type Dataset struct {
	Inputs model.Inputs
	Labels [][]int
}

// Len is the number of examples.
func (d *Dataset) Len() int {
	return d.Inputs.Len()
}

// Subset returns the examples at idx, sharing rows with d.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{Inputs: d.Inputs.Slice(idx), Labels: make([][]int, len(idx))}
	for i, j := range idx {
		out.Labels[i] = d.Labels[j]
	}
	return out
}

// NewSequenceDataset tokenizes texts, truncated to maxLen and padded to the
// longest encoded text.
func NewSequenceDataset(tok encoder.Tokenizer, examples []corpus.Example, maxLen int) (*Dataset, error) {
	if len(examples) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "sequence dataset")
	}
	ds := &Dataset{
		Inputs: tok.EncodeTexts(corpus.Texts(examples), maxLen, false),
		Labels: make([][]int, len(examples)),
	}
	for i, e := range examples {
		ds.Labels[i] = []int{e.Label}
	}
	return ds, nil
}

// NewTaggingDataset encodes each sentence one id per word and aligns the tags
// to the [CLS] w1 … wk [SEP] [PAD]… layout, all padded to maxLen.
func NewTaggingDataset(tok encoder.Tokenizer, sentences []corpus.TaggedSentence, maxLen int) (*Dataset, error) {
	if len(sentences) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "tagging dataset")
	}
	if maxLen < 2 {
		return nil, errors.NewValidationError("max_len", "must leave room for [CLS] and [SEP]", maxLen)
	}
	words := make([][]string, len(sentences))
	ds := &Dataset{Labels: make([][]int, len(sentences))}
	for i, s := range sentences {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		w := s.Tokens
		if len(w) > maxLen-2 {
			w = w[:maxLen-2]
		}
		words[i] = w
		ds.Labels[i] = AlignTags(s.Tags, maxLen)
	}
	ds.Inputs = tok.EncodeSentences(words, maxLen)
	return ds, nil
}

// AlignTags lays tags out as Pad, tags…, Pad and pads with Pad to maxLen.
// Tags beyond maxLen-2 are dropped so the trailing Pad stays under [SEP].
func AlignTags(tags []corpus.Tag, maxLen int) []int {
	out := make([]int, maxLen)
	for i := range out {
		out[i] = int(corpus.Pad)
	}
	for i, t := range tags {
		if i+1 >= maxLen-1 {
			break
		}
		out[i+1] = int(t)
	}
	return out
}

// StripPad drops Pad ids and converts the rest back to tags.
func StripPad(ids []int) []corpus.Tag {
	out := make([]corpus.Tag, 0, len(ids))
	for _, id := range ids {
		if corpus.Tag(id) != corpus.Pad {
			out = append(out, corpus.Tag(id))
		}
	}
	return out
}
