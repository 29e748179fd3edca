package tokenizer

import (
	"strings"
	"unicode"

	"github.com/YuminosukeSato/haspeede/core/model"
)

// DefaultMaxCharsPerWord is the longest word split into pieces; longer words
// become [UNK].
const DefaultMaxCharsPerWord = 100

// WordPiece tokenizes by greedy longest-match over a Vocab.
type WordPiece struct {
	vocab           *Vocab
	maxCharsPerWord int
}

// NewWordPiece creates a tokenizer over vocab.
func NewWordPiece(vocab *Vocab) *WordPiece {
	return &WordPiece{vocab: vocab, maxCharsPerWord: DefaultMaxCharsPerWord}
}

// Vocab returns the vocabulary.
func (wp *WordPiece) Vocab() *Vocab {
	return wp.vocab
}

// VocabSize is the number of distinct ids the tokenizer can emit.
func (wp *WordPiece) VocabSize() int {
	return wp.vocab.Size()
}

// PadID is the id used for padding positions.
func (wp *WordPiece) PadID() int {
	return wp.vocab.PadID
}

// splitWords splits on whitespace and isolates punctuation runes.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// Tokenize splits one word into pieces. A word with no complete match is a
// single [UNK].
func (wp *WordPiece) Tokenize(word string) []string {
	runes := []rune(word)
	if len(runes) > wp.maxCharsPerWord {
		return []string{UnkToken}
	}
	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		match := ""
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = ContinuationPrefix + sub
			}
			if _, ok := wp.vocab.ID(sub); ok {
				match = sub
				break
			}
		}
		if match == "" {
			return []string{UnkToken}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

func (wp *WordPiece) lookup(token string) int {
	if id, ok := wp.vocab.ID(token); ok {
		return id
	}
	return wp.vocab.UnkID
}

// EncodeText returns [CLS] pieces... [SEP], truncated so the whole sequence
// fits in maxLen.
func (wp *WordPiece) EncodeText(text string, maxLen int) []int {
	ids := []int{wp.vocab.ClsID}
	for _, w := range splitWords(text) {
		for _, p := range wp.Tokenize(w) {
			ids = append(ids, wp.lookup(p))
		}
	}
	return wp.closeSequence(ids, maxLen)
}

// EncodeWords maps pre-split words to exactly one id each, without subword
// splitting, so ids stay aligned with per-word labels. Unknown words are
// [UNK].
func (wp *WordPiece) EncodeWords(words []string, maxLen int) []int {
	ids := make([]int, 1, len(words)+2)
	ids[0] = wp.vocab.ClsID
	for _, w := range words {
		ids = append(ids, wp.lookup(w))
	}
	return wp.closeSequence(ids, maxLen)
}

func (wp *WordPiece) closeSequence(ids []int, maxLen int) []int {
	if maxLen >= 2 && len(ids) > maxLen-1 {
		ids = ids[:maxLen-1]
	}
	return append(ids, wp.vocab.SepID)
}

// EncodeTexts encodes a batch and pads every row with [PAD] to the longest
// row (padToMax false) or to maxLen (padToMax true).
func (wp *WordPiece) EncodeTexts(texts []string, maxLen int, padToMax bool) model.Inputs {
	rows := make([][]int, len(texts))
	for i, t := range texts {
		rows[i] = wp.EncodeText(t, maxLen)
	}
	return wp.pad(rows, maxLen, padToMax)
}

// EncodeSentences encodes pre-split sentences one id per word and pads to
// maxLen.
func (wp *WordPiece) EncodeSentences(sentences [][]string, maxLen int) model.Inputs {
	rows := make([][]int, len(sentences))
	for i, s := range sentences {
		rows[i] = wp.EncodeWords(s, maxLen)
	}
	return wp.pad(rows, maxLen, true)
}

func (wp *WordPiece) pad(rows [][]int, maxLen int, padToMax bool) model.Inputs {
	width := 0
	if padToMax {
		width = maxLen
	} else {
		for _, r := range rows {
			if len(r) > width {
				width = len(r)
			}
		}
	}
	in := model.Inputs{IDs: make([][]int, len(rows)), Mask: make([][]int, len(rows))}
	for i, r := range rows {
		ids := make([]int, width)
		mask := make([]int, width)
		for j := range ids {
			if j < len(r) {
				ids[j] = r[j]
				mask[j] = 1
			} else {
				ids[j] = wp.vocab.PadID
			}
		}
		in.IDs[i] = ids
		in.Mask[i] = mask
	}
	return in
}

// Decode turns ids back into text, dropping special tokens and gluing "##"
// continuations onto the previous piece.
func (wp *WordPiece) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		switch id {
		case wp.vocab.PadID, wp.vocab.ClsID, wp.vocab.SepID:
			continue
		}
		tok := wp.vocab.Token(id)
		if strings.HasPrefix(tok, ContinuationPrefix) {
			b.WriteString(strings.TrimPrefix(tok, ContinuationPrefix))
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}
