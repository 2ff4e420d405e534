package analysis

import (
	"fmt"
	"sort"
	"sync"
)

// ContentScorer scores one piece of content. The bundled scorers are keyword
// heuristics; a statistical implementation can replace any of them without
// changing callers.
type ContentScorer interface {
	Score(content string) Result
}

// ScorerFunc adapts a plain function to the ContentScorer interface.
type ScorerFunc func(content string) Result

func (f ScorerFunc) Score(content string) Result { return f(content) }

// Registry maps framework names to scorers. New frameworks register rather
// than extend a dispatch branch.
type Registry struct {
	mu      sync.RWMutex
	scorers map[string]ContentScorer
}

func NewRegistry() *Registry {
	return &Registry{scorers: make(map[string]ContentScorer)}
}

// NewDefaultRegistry returns a registry with the five bundled frameworks.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FrameworkThematic, ScorerFunc(ThematicScorer))
	r.Register(FrameworkSentiment, ScorerFunc(SentimentScorer))
	r.Register(FrameworkConceptual, ScorerFunc(ConceptualScorer))
	r.Register(FrameworkStructural, ScorerFunc(StructuralScorer))
	r.Register(FrameworkTemporal, ScorerFunc(TemporalScorer))
	return r
}

func (r *Registry) Register(name string, scorer ContentScorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[name] = scorer
}

func (r *Registry) Get(name string) (ContentScorer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the scorers for the requested framework names, or all
// registered scorers when names is empty. Unknown names are an error so a
// typo in config fails loudly instead of silently skipping a framework.
func (r *Registry) Resolve(names []string) (map[string]ContentScorer, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make(map[string]ContentScorer, len(names))
	for _, name := range names {
		scorer, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown analysis framework %q", name)
		}
		out[name] = scorer
	}
	return out, nil
}
