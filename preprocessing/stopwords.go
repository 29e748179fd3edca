package preprocessing

import (
	"bufio"
	"embed"
	"strings"
	"sync"

	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

//go:embed stopwords/*.txt
var stopwordFiles embed.FS

var stopwordFile = map[corpus.Language]string{
	corpus.Italian: "stopwords/italian.txt",
	corpus.Spanish: "stopwords/spanish.txt",
	corpus.German:  "stopwords/german.txt",
}

var (
	stopwordMu    sync.Mutex
	stopwordCache = map[corpus.Language]map[string]struct{}{}
)

// StopWords returns the static stopword set for lang. The sets are fixed
// lists and are never fit on data.
func StopWords(lang corpus.Language) (map[string]struct{}, error) {
	stopwordMu.Lock()
	defer stopwordMu.Unlock()

	if set, ok := stopwordCache[lang]; ok {
		return set, nil
	}
	name, ok := stopwordFile[lang]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownLanguage, "stopwords for %q", lang)
	}
	f, err := stopwordFiles.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	set := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if w := strings.TrimSpace(sc.Text()); w != "" {
			set[w] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	stopwordCache[lang] = set
	return set, nil
}
