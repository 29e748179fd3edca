// Package tokenizer implements a WordPiece subword tokenizer with the
// [PAD]/[UNK]/[CLS]/[SEP] special tokens of BERT-style encoders.
package tokenizer

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Special tokens.
const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"
)

// ContinuationPrefix marks a subword that continues the previous piece.
const ContinuationPrefix = "##"

// Vocab maps tokens to ids and back.
type Vocab struct {
	tokens []string
	ids    map[string]int

	PadID, UnkID, ClsID, SepID int
}

// NewVocab indexes tokens in order. Every special token must be present;
// duplicates keep their first id.
func NewVocab(tokens []string) (*Vocab, error) {
	v := &Vocab{ids: make(map[string]int, len(tokens))}
	for _, t := range tokens {
		if _, dup := v.ids[t]; dup {
			continue
		}
		v.ids[t] = len(v.tokens)
		v.tokens = append(v.tokens, t)
	}
	for _, sp := range []struct {
		tok string
		dst *int
	}{{PadToken, &v.PadID}, {UnkToken, &v.UnkID}, {ClsToken, &v.ClsID}, {SepToken, &v.SepID}} {
		id, ok := v.ids[sp.tok]
		if !ok {
			return nil, errors.NewValueError("NewVocab", "vocabulary lacks special token "+sp.tok)
		}
		*sp.dst = id
	}
	return v, nil
}

// BuildVocab builds a vocabulary from normalized texts: the special tokens,
// whole words seen at least minCount times (most frequent first, capped at
// maxWords when maxWords > 0), then every character seen both as a word
// start and as a "##" continuation so any word can be spelled out.
func BuildVocab(texts []string, minCount, maxWords int) *Vocab {
	counts := make(map[string]int)
	chars := make(map[string]struct{})
	for _, text := range texts {
		for _, w := range splitWords(text) {
			counts[w]++
			for _, r := range w {
				chars[string(r)] = struct{}{}
			}
		}
	}

	words := make([]string, 0, len(counts))
	for w, c := range counts {
		if c >= minCount {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}

	alphabet := make([]string, 0, len(chars))
	for c := range chars {
		alphabet = append(alphabet, c)
	}
	sort.Strings(alphabet)

	tokens := []string{PadToken, UnkToken, ClsToken, SepToken}
	tokens = append(tokens, words...)
	for _, c := range alphabet {
		tokens = append(tokens, c, ContinuationPrefix+c)
	}
	v, _ := NewVocab(tokens)
	return v
}

// Size is the number of tokens.
func (v *Vocab) Size() int {
	return len(v.tokens)
}

// ID looks up a token.
func (v *Vocab) ID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Token returns the token for id, or [UNK] when id is out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return UnkToken
	}
	return v.tokens[id]
}

// LoadVocab reads a vocab.txt: one token per line, the line number is the id.
func LoadVocab(r io.Reader) (*Vocab, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		tokens = append(tokens, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read vocabulary")
	}
	return NewVocab(tokens)
}

// LoadVocabFile reads a vocab.txt from disk.
func LoadVocabFile(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open vocabulary %s", path)
	}
	defer f.Close()
	return LoadVocab(f)
}

// Save writes the vocabulary in vocab.txt format.
func (v *Vocab) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, t := range v.tokens {
		if _, err := bw.WriteString(t + "\n"); err != nil {
			return errors.Wrap(err, "write vocabulary")
		}
	}
	return bw.Flush()
}

// SaveFile writes the vocabulary to path.
func (v *Vocab) SaveFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create vocabulary %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return v.Save(f)
}
