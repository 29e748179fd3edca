package preprocessing

import (
	"strings"

	"github.com/YuminosukeSato/haspeede/corpus"
)

// ShapeSentences lowercases every token and keeps only the last maxLen
// tokens (with their tags) of sentences that are longer. maxLen <= 0 keeps
// everything.
func ShapeSentences(sentences []corpus.TaggedSentence, maxLen int) ([]corpus.TaggedSentence, error) {
	out := make([]corpus.TaggedSentence, len(sentences))
	for i, s := range sentences {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		toks, tags := s.Tokens, s.Tags
		if maxLen > 0 && len(toks) > maxLen {
			toks = toks[len(toks)-maxLen:]
			tags = tags[len(tags)-maxLen:]
		}
		shaped := corpus.TaggedSentence{ID: s.ID, Tokens: make([]string, len(toks)), Tags: append([]corpus.Tag(nil), tags...)}
		for j, t := range toks {
			shaped.Tokens[j] = strings.ToLower(t)
		}
		out[i] = shaped
	}
	return out, nil
}
