package encoder

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Factory builds a fresh encoder for one training run.
type Factory func(cfg Config, rng *rand.Rand) (Encoder, error)

// Registry maps a corpus language to the encoder used for it, so swapping
// the encoder never touches the training loop.
type Registry struct {
	mu        sync.RWMutex
	factories map[corpus.Language]Factory
	names     map[corpus.Language]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[corpus.Language]Factory),
		names:     make(map[corpus.Language]string),
	}
}

// Register sets the factory for lang. name identifies the encoder in logs
// and checkpoints.
func (r *Registry) Register(lang corpus.Language, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[lang] = f
	r.names[lang] = name
}

// New builds the encoder registered for lang.
func (r *Registry) New(lang corpus.Language, cfg Config, rng *rand.Rand) (Encoder, error) {
	r.mu.RLock()
	f, ok := r.factories[lang]
	name := r.names[lang]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownLanguage, "no encoder registered for %q", lang)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return f(cfg, rng)
}

// Name returns the registered encoder name for lang.
func (r *Registry) Name(lang corpus.Language) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[lang]
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []corpus.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]corpus.Language, 0, len(r.factories))
	for l := range r.factories {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newContext(cfg Config, rng *rand.Rand) (Encoder, error) {
	return NewContextEncoder(cfg, rng)
}

// DefaultRegistry has one ContextEncoder per corpus language, named after
// the pretrained checkpoint it stands in for.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(corpus.Italian, "bert-base-italian-uncased", newContext)
	r.Register(corpus.Spanish, "distilbert-base-spanish-uncased", newContext)
	r.Register(corpus.German, "bert-base-german-uncased", newContext)
	return r
}
