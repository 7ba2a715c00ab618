package llm

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// providerKeywords maps a provider tag to the substrings that select it
// from free text. The table is fixed; matching is case-insensitive.
var providerKeywords = map[string][]string{
	"openai":    {"openai", "gpt"},
	"google":    {"gemini", "google"},
	"anthropic": {"claude", "anthropic", "haiku"},
	"deepseek":  {"deepseek"},
}

// Keywords returns the trigger substrings for a provider tag.
func Keywords(provider string) []string {
	kw := providerKeywords[strings.ToLower(provider)]
	out := make([]string, len(kw))
	copy(out, kw)
	return out
}

// Selection records how a model was chosen.
type Selection string

const (
	SelectionExplicit Selection = "explicit"
	SelectionDetected Selection = "detected"
	SelectionDefault  Selection = "default"
)

// Entry is a registered model: its descriptor, adapter and per-model options.
type Entry struct {
	Descriptor ModelDescriptor
	Provider   Provider
	CacheTTL   time.Duration
	Selection  Selection
}

// ModelOption configures a registry entry.
type ModelOption func(*Entry)

// WithCacheTTL sets the response cache TTL for a model.
// Zero means the gateway default.
func WithCacheTTL(ttl time.Duration) ModelOption {
	return func(e *Entry) {
		e.CacheTTL = ttl
	}
}

// Registry holds the registered models in registration order.
// Registration happens at startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  []Entry
	byName   map[string]int
	fallback string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
	}
}

// Register adds a model. Names must be unique.
func (r *Registry) Register(desc ModelDescriptor, provider Provider, opts ...ModelOption) error {
	if desc.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if provider == nil {
		return fmt.Errorf("model %s: provider is nil", desc.Name)
	}
	if desc.Provider == "" {
		desc.Provider = provider.Name()
	}

	entry := Entry{Descriptor: desc, Provider: provider}
	for _, opt := range opts {
		opt(&entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("model %s is already registered", desc.Name)
	}
	r.byName[desc.Name] = len(r.entries)
	r.entries = append(r.entries, entry)
	return nil
}

// SetDefault picks the model used when neither a name nor a keyword selects one.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return &UnknownModelError{Name: name}
	}
	r.fallback = name
	return nil
}

// Resolve finds the target model.
//
// An explicit name must be registered. Otherwise the hint is scanned for
// provider keywords (first registered match wins), and failing that the
// default model is used.
func (r *Registry) Resolve(name, hint string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		idx, ok := r.byName[name]
		if !ok {
			return Entry{}, &UnknownModelError{Name: name}
		}
		entry := r.entries[idx]
		entry.Selection = SelectionExplicit
		return entry, nil
	}

	if idx := detectIndex(r.descriptorsLocked(), hint); idx >= 0 {
		entry := r.entries[idx]
		entry.Selection = SelectionDetected
		return entry, nil
	}

	if len(r.entries) == 0 {
		return Entry{}, &UnknownModelError{}
	}
	idx := 0
	if r.fallback != "" {
		idx = r.byName[r.fallback]
	}
	entry := r.entries[idx]
	entry.Selection = SelectionDefault
	return entry, nil
}

// Detect runs keyword detection alone.
func (r *Registry) Detect(hint string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return DetectModel(r.descriptorsLocked(), hint)
}

// Models lists the registered descriptors in registration order.
func (r *Registry) Models() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptorsLocked()
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) descriptorsLocked() []ModelDescriptor {
	out := make([]ModelDescriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// DetectModel returns the first descriptor, in slice order, whose provider
// keywords appear in hint.
func DetectModel(descs []ModelDescriptor, hint string) (ModelDescriptor, bool) {
	if idx := detectIndex(descs, hint); idx >= 0 {
		return descs[idx], true
	}
	return ModelDescriptor{}, false
}

func detectIndex(descs []ModelDescriptor, hint string) int {
	if hint == "" {
		return -1
	}
	lower := strings.ToLower(hint)
	for i, d := range descs {
		for _, kw := range providerKeywords[strings.ToLower(d.Provider)] {
			if strings.Contains(lower, kw) {
				return i
			}
		}
	}
	return -1
}
