package tokenizer

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

func testVocab(t *testing.T) *Vocab {
	t.Helper()
	v, err := NewVocab([]string{PadToken, UnkToken, ClsToken, SepToken, "immigrati", "rub", "##ano", "##a", "casa", "!"})
	require.NoError(t, err)
	return v
}

func TestNewVocabRequiresSpecials(t *testing.T) {
	_, err := NewVocab([]string{PadToken, "a"})
	var ve *errors.ValueError
	assert.True(t, errors.As(err, &ve))
}

func TestVocabLookup(t *testing.T) {
	v := testVocab(t)
	assert.Equal(t, 10, v.Size())
	id, ok := v.ID("casa")
	assert.True(t, ok)
	assert.Equal(t, 8, id)
	assert.Equal(t, "casa", v.Token(8))
	assert.Equal(t, UnkToken, v.Token(99))
	assert.Equal(t, 0, v.PadID)
	assert.Equal(t, 3, v.SepID)
}

func TestTokenize(t *testing.T) {
	wp := NewWordPiece(testVocab(t))
	tests := []struct {
		word string
		want []string
	}{
		{"immigrati", []string{"immigrati"}},
		{"rubano", []string{"rub", "##ano"}},
		{"ruba", []string{"rub", "##a"}},
		{"rubx", []string{UnkToken}},
		{strings.Repeat("a", DefaultMaxCharsPerWord+1), []string{UnkToken}},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.want, wp.Tokenize(tt.word))
		})
	}
}

func TestEncodeTextTruncates(t *testing.T) {
	wp := NewWordPiece(testVocab(t))
	assert.Equal(t, []int{2, 4, 5, 6, 9, 3}, wp.EncodeText("immigrati rubano!", 16))
	assert.Equal(t, []int{2, 4, 5, 3}, wp.EncodeText("immigrati rubano!", 4))
}

func TestEncodeTextsPadsToLongest(t *testing.T) {
	wp := NewWordPiece(testVocab(t))
	in := wp.EncodeTexts([]string{"casa", "immigrati rubano"}, 256, false)
	require.Equal(t, 2, in.Len())
	assert.Equal(t, 5, in.SeqLen())
	assert.Equal(t, []int{2, 8, 3, 0, 0}, in.IDs[0])
	assert.Equal(t, []int{1, 1, 1, 0, 0}, in.Mask[0])
	assert.Equal(t, []int{1, 1, 1, 1, 1}, in.Mask[1])
}

func TestEncodeSentencesOneIDPerWord(t *testing.T) {
	wp := NewWordPiece(testVocab(t))
	in := wp.EncodeSentences([][]string{{"casa", "rubano", "immigrati"}}, 8)
	assert.Equal(t, []int{2, 8, 1, 4, 3, 0, 0, 0}, in.IDs[0])
	assert.Equal(t, []int{1, 1, 1, 1, 1, 0, 0, 0}, in.Mask[0])
}

func TestBuildVocab(t *testing.T) {
	v := BuildVocab([]string{"odio odio te", "te amo"}, 2, 0)
	for _, tok := range []string{PadToken, UnkToken, ClsToken, SepToken, "odio", "te", "a", "##m"} {
		_, ok := v.ID(tok)
		assert.True(t, ok, tok)
	}
	_, ok := v.ID("amo")
	assert.False(t, ok)

	// Words below the count threshold are still spelled out.
	wp := NewWordPiece(v)
	assert.Equal(t, []string{"a", "##m", "##o"}, wp.Tokenize("amo"))
	assert.Equal(t, "odio amo", wp.Decode(wp.EncodeText("odio amo", 16)))
}

func TestBuildVocabMaxWords(t *testing.T) {
	v := BuildVocab([]string{"b b b a a c"}, 1, 1)
	_, ok := v.ID("b")
	assert.True(t, ok)
	_, ok = v.ID("a")
	assert.True(t, ok, "single characters are always kept")
	_, ok = v.ID("c")
	assert.True(t, ok)
	assert.Equal(t, "b", v.Token(4))
}

func TestVocabSaveLoad(t *testing.T) {
	v := testVocab(t)
	var buf bytes.Buffer
	require.NoError(t, v.Save(&buf))
	got, err := LoadVocab(&buf)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, v.SaveFile(path))
	got, err = LoadVocabFile(path)
	require.NoError(t, err)
	assert.Equal(t, v.Size(), got.Size())
}
