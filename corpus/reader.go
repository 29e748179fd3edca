package corpus

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Format identifies a corpus file layout.
type Format string

const (
	// FormatHaSpeeDe is the HaSpeeDe 2 task A/B TSV: id, text, hs, stereotype.
	FormatHaSpeeDe Format = "haspeede"
	// FormatHatEval is the HatEval 2019 CSV: id, text, HS, TR, AG.
	FormatHatEval Format = "hateval"
	// FormatGermanRefugees is the IWG refugee CSV: text, hs ("YES"/"NO").
	FormatGermanRefugees Format = "german-refugees"
	// FormatTokens is the HaSpeeDe 2 task C token file: TweetID-TokenNumber, token, IOB.
	FormatTokens Format = "tokens"
)

type haspeedeRow struct {
	ID         string `csv:"id"`
	Text       string `csv:"text"`
	HS         string `csv:"hs"`
	Stereotype string `csv:"stereotype"`
}

type hatevalRow struct {
	ID   string `csv:"id"`
	Text string `csv:"text"`
	HS   string `csv:"hs"`
	TR   string `csv:"tr"`
	AG   string `csv:"ag"`
}

type refugeeRow struct {
	Text string `csv:"text"`
	HS   string `csv:"hs"`
}

type tokenRow struct {
	CompositeID string `csv:"id"`
	Token       string `csv:"token"`
	IOB         string `csv:"iob"`
}

// namedReader feeds gocsv a fixed header in place of whatever header the
// file carries, so column names in the source never matter, only order.
type namedReader struct {
	next       func() ([]string, error)
	header     []string
	skipHeader bool
	started    bool
}

func (nr *namedReader) Read() ([]string, error) {
	if !nr.started {
		nr.started = true
		if nr.skipHeader {
			if _, err := nr.next(); err != nil {
				return nil, err
			}
		}
		return nr.header, nil
	}
	rec, err := nr.next()
	if err != nil {
		return nil, err
	}
	// Fit every record to the header width.
	if len(rec) > len(nr.header) {
		rec = rec[:len(nr.header)]
	}
	for len(rec) < len(nr.header) {
		rec = append(rec, "")
	}
	return rec, nil
}

func (nr *namedReader) ReadAll() ([][]string, error) {
	var out [][]string
	for {
		rec, err := nr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func delimited(r io.Reader, comma rune, header []string) *namedReader {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &namedReader{next: cr.Read, header: header, skipHeader: true}
}

// tokenLines splits raw lines on tabs without quote handling, since single
// tokens may be a bare quote character. Blank lines and lines starting with
// '#' or a space are skipped.
func tokenLines(r io.Reader) func() ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return func() ([]string, error) {
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), " \t\r")
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, " ") {
				continue
			}
			return strings.Split(strings.TrimSpace(line), "\t"), nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

func parseBinary(op, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || (v != 0 && v != 1) {
		return 0, errors.NewValueError(op, fmt.Sprintf("label %q is not 0 or 1", raw))
	}
	return v, nil
}

// ReadHaSpeeDe reads a HaSpeeDe 2 task A/B file, labelling each example with
// column.
func ReadHaSpeeDe(r io.Reader, column LabelColumn) ([]Example, error) {
	if column != HateSpeech && column != Stereotype {
		return nil, errors.NewValidationError("label_column", "must be hs or stereotype", column)
	}
	var rows []haspeedeRow
	if err := gocsv.UnmarshalCSV(delimited(r, '\t', []string{"id", "text", "hs", "stereotype"}), &rows); err != nil {
		return nil, errors.Wrap(err, "read haspeede corpus")
	}
	out := make([]Example, len(rows))
	for i, row := range rows {
		raw := row.HS
		if column == Stereotype {
			raw = row.Stereotype
		}
		label, err := parseBinary("ReadHaSpeeDe", raw)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		out[i] = Example{ID: row.ID, Text: row.Text, Label: label}
	}
	return out, nil
}

// ReadHatEval reads a HatEval 2019 file, labelling with the HS column.
func ReadHatEval(r io.Reader) ([]Example, error) {
	var rows []hatevalRow
	if err := gocsv.UnmarshalCSV(delimited(r, ',', []string{"id", "text", "hs", "tr", "ag"}), &rows); err != nil {
		return nil, errors.Wrap(err, "read hateval corpus")
	}
	out := make([]Example, len(rows))
	for i, row := range rows {
		label, err := parseBinary("ReadHatEval", row.HS)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		out[i] = Example{ID: row.ID, Text: row.Text, Label: label}
	}
	return out, nil
}

// ReadGermanRefugees reads the IWG refugee corpus. The label is 1 for "YES"
// and 0 otherwise; ids are the 1-based row numbers.
func ReadGermanRefugees(r io.Reader) ([]Example, error) {
	var rows []refugeeRow
	if err := gocsv.UnmarshalCSV(delimited(r, ',', []string{"text", "hs"}), &rows); err != nil {
		return nil, errors.Wrap(err, "read german refugees corpus")
	}
	out := make([]Example, len(rows))
	for i, row := range rows {
		label := 0
		if strings.TrimSpace(row.HS) == "YES" {
			label = 1
		}
		out[i] = Example{ID: strconv.Itoa(i + 1), Text: row.Text, Label: label}
	}
	return out, nil
}

// ReadTokens reads a task C token file and rebuilds sentences. Rows with a
// composite id seen before are dropped. Sentences appear in order of first
// appearance and tokens are ordered by their token number.
func ReadTokens(r io.Reader) ([]TaggedSentence, error) {
	var rows []tokenRow
	nr := &namedReader{next: tokenLines(r), header: []string{"id", "token", "iob"}}
	if err := gocsv.UnmarshalCSV(nr, &rows); err != nil {
		return nil, errors.Wrap(err, "read token corpus")
	}
	return groupTokens(rows)
}

type positioned struct {
	num int
	tok string
	tag Tag
}

func groupTokens(rows []tokenRow) ([]TaggedSentence, error) {
	seen := make(map[string]struct{}, len(rows))
	var order []string
	groups := make(map[string][]positioned)

	for i, row := range rows {
		if _, dup := seen[row.CompositeID]; dup {
			continue
		}
		seen[row.CompositeID] = struct{}{}

		id, numStr, ok := strings.Cut(row.CompositeID, "-")
		if !ok {
			return nil, errors.NewValueError("ReadTokens", fmt.Sprintf("row %d: id %q has no token number", i+1, row.CompositeID))
		}
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return nil, errors.NewValueError("ReadTokens", fmt.Sprintf("row %d: bad token number %q", i+1, numStr))
		}
		tag, err := ParseTag(row.IOB)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		if _, exists := groups[id]; !exists {
			order = append(order, id)
		}
		groups[id] = append(groups[id], positioned{num: num, tok: row.Token, tag: tag})
	}

	out := make([]TaggedSentence, len(order))
	for i, id := range order {
		toks := groups[id]
		sortByNumber(toks)
		s := TaggedSentence{ID: id, Tokens: make([]string, len(toks)), Tags: make([]Tag, len(toks))}
		for j, p := range toks {
			s.Tokens[j] = p.tok
			s.Tags[j] = p.tag
		}
		out[i] = s
	}
	return out, nil
}

// sortByNumber is a stable insertion sort; sentences are short and usually
// already ordered.
func sortByNumber(toks []positioned) {
	for i := 1; i < len(toks); i++ {
		for j := i; j > 0 && toks[j].num < toks[j-1].num; j-- {
			toks[j], toks[j-1] = toks[j-1], toks[j]
		}
	}
}

// LoadExamples reads a sequence-task corpus file.
func LoadExamples(path string, format Format, column LabelColumn) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open corpus %s", path)
	}
	defer f.Close()

	switch format {
	case FormatHaSpeeDe:
		return ReadHaSpeeDe(f, column)
	case FormatHatEval:
		return ReadHatEval(f)
	case FormatGermanRefugees:
		return ReadGermanRefugees(f)
	default:
		return nil, errors.NewValidationError("format", "not a sequence corpus format", format)
	}
}

// LoadSentences reads a task C token file.
func LoadSentences(path string) ([]TaggedSentence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open corpus %s", path)
	}
	defer f.Close()
	return ReadTokens(f)
}
