// Package corpus defines the labelled data the pipeline trains on and reads
// the delimited corpus files it comes in.
package corpus

import (
	"fmt"
	"strings"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Language is the ISO 639-1 code of a corpus language.
type Language string

const (
	Italian Language = "it"
	Spanish Language = "es"
	German  Language = "de"
)

// ParseLanguage accepts "it", "es" or "de".
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case Italian, Spanish, German:
		return l, nil
	default:
		return "", errors.Wrapf(errors.ErrUnknownLanguage, "%q", s)
	}
}

// Example is one unit of a sequence task: a text and a binary label.
type Example struct {
	ID    string
	Text  string
	Label int
}

// Tag is a span-labelling tag.
type Tag int

// The tag vocabulary. Pad is structural filler and never a true label.
const (
	Outside Tag = iota
	Begin
	Inside
	Pad
)

// NumTags is the size of the tag vocabulary.
const NumTags = 4

var tagNames = [NumTags]string{"O", "B", "I", "PAD"}

func (t Tag) String() string {
	if t < 0 || int(t) >= NumTags {
		return fmt.Sprintf("Tag(%d)", int(t))
	}
	return tagNames[t]
}

// ParseTag maps an IOB annotation onto the tag vocabulary. Fine-grained
// suffixes collapse, so "B-NU-CGA" is Begin and "I-NU-CGA" is Inside.
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "O":
		return Outside, nil
	case s == "PAD":
		return Pad, nil
	case s == "B" || strings.HasPrefix(s, "B-"):
		return Begin, nil
	case s == "I" || strings.HasPrefix(s, "I-"):
		return Inside, nil
	default:
		return 0, errors.NewValueError("ParseTag", fmt.Sprintf("unknown IOB tag %q", s))
	}
}

// TaggedSentence is one unit of the span task: tokens and one tag per token.
type TaggedSentence struct {
	ID     string
	Tokens []string
	Tags   []Tag
}

// Validate checks that every token has exactly one tag.
func (s TaggedSentence) Validate() error {
	if len(s.Tokens) != len(s.Tags) {
		return errors.NewDimensionError("TaggedSentence "+s.ID, len(s.Tokens), len(s.Tags), 1)
	}
	return nil
}

// LabelColumn selects which binary column of a multi-label corpus becomes
// Example.Label.
type LabelColumn string

const (
	HateSpeech LabelColumn = "hs"
	Stereotype LabelColumn = "stereotype"
)

// Distribution summarises the label balance of a split.
type Distribution struct {
	Total    int
	Positive int
	Negative int
}

// PositiveRatio is the share of positives in percent, 0 for an empty split.
func (d Distribution) PositiveRatio() float64 {
	return errors.SafeDivide(float64(d.Positive)*100, float64(d.Total))
}

// NegativeRatio is the share of negatives in percent, 0 for an empty split.
func (d Distribution) NegativeRatio() float64 {
	return errors.SafeDivide(float64(d.Negative)*100, float64(d.Total))
}

// Describe counts positives and negatives.
func Describe(examples []Example) Distribution {
	d := Distribution{Total: len(examples)}
	for _, e := range examples {
		if e.Label == 1 {
			d.Positive++
		} else {
			d.Negative++
		}
	}
	return d
}

// Texts returns the texts of examples in order.
func Texts(examples []Example) []string {
	out := make([]string, len(examples))
	for i, e := range examples {
		out[i] = e.Text
	}
	return out
}
