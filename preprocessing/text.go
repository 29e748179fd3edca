package preprocessing

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/YuminosukeSato/haspeede/corpus"
)

// StringFunc rewrites a whole text.
type StringFunc func(string) string

// TokenFunc filters or rewrites whitespace-separated tokens.
type TokenFunc func([]string) []string

// Normalizer applies string rules, splits on whitespace, applies token rules
// and joins the result with single spaces.
type Normalizer struct {
	rules   []StringFunc
	filters []TokenFunc
}

// NewPipeline builds a Normalizer from explicit rules.
func NewPipeline(rules []StringFunc, filters ...TokenFunc) *Normalizer {
	return &Normalizer{rules: rules, filters: filters}
}

// NewNormalizer returns the tweet pipeline for lang: lowercase, drop the
// literal "url" placeholder, drop @mentions, turn punctuation into spaces and
// remove stopwords. Unknown languages get the pipeline without stopwords.
func NewNormalizer(lang corpus.Language) *Normalizer {
	rules := []StringFunc{NFC, Lower(lang), StripURL, StripMentions, ReplacePunctuation}
	sw, err := StopWords(lang)
	if err != nil {
		return NewPipeline(rules)
	}
	return NewPipeline(rules, RemoveStopWords(sw))
}

// Apply normalizes one text.
func (n *Normalizer) Apply(s string) string {
	for _, r := range n.rules {
		s = r(s)
	}
	toks := strings.Fields(s)
	for _, f := range n.filters {
		toks = f(toks)
	}
	return strings.Join(toks, " ")
}

// ApplyAll normalizes the texts of examples, returning new examples.
func (n *Normalizer) ApplyAll(examples []corpus.Example) []corpus.Example {
	out := make([]corpus.Example, len(examples))
	for i, e := range examples {
		e.Text = n.Apply(e.Text)
		out[i] = e
	}
	return out
}

var (
	mentionRe     = regexp.MustCompile(`@[\p{L}\p{N}_]+`)
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}]`)
)

// NFC composes accents so "è" typed as e + U+0300 matches stopword lists.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// Lower lowercases with the casing rules of lang.
func Lower(lang corpus.Language) StringFunc {
	tag, err := language.Parse(string(lang))
	if err != nil {
		tag = language.Und
	}
	c := cases.Lower(tag)
	return func(s string) string {
		return c.String(s)
	}
}

// StripURL removes every occurrence of "url", the placeholder the corpora
// use for links. It also eats the substring inside longer words, as the
// reference pipeline does.
func StripURL(s string) string {
	return strings.ReplaceAll(s, "url", "")
}

// StripMentions removes @handles.
func StripMentions(s string) string {
	return mentionRe.ReplaceAllString(s, "")
}

// ReplacePunctuation turns every rune that is neither a word character nor
// whitespace into a space.
func ReplacePunctuation(s string) string {
	return punctuationRe.ReplaceAllString(s, " ")
}

// RemoveStopWords drops tokens found in set.
func RemoveStopWords(set map[string]struct{}) TokenFunc {
	return func(toks []string) []string {
		out := make([]string, 0, len(toks))
		for _, t := range toks {
			if _, ok := set[t]; !ok {
				out = append(out, t)
			}
		}
		return out
	}
}
