package source

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/fetch"
)

// Env carries the shared collaborators handed to every Factory.
type Env struct {
	Fetcher *fetch.Fetcher
	Logger  *slog.Logger
}

func (e Env) withDefaults() Env {
	if e.Fetcher == nil {
		e.Fetcher = fetch.New()
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	return e
}

// Spec is one entry of the host's source mapping.
type Spec struct {
	Name   string  `yaml:"name" json:"name"`
	Config Options `yaml:"config,omitempty" json:"config,omitempty"`
}

// Factory constructs a Source from its layered-in user options.
// opts always carries cite_prefix.
type Factory func(opts Options, env Env) (Source, error)

// Registry maps variant names to factories.
// Thread-safe: Register and Build may be called concurrently.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a variant. Registering the same name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered variant names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Build constructs one Source per prefix of specs.
//
// cite_prefix defaults to the mapping key; a Source whose prefix differs
// from its key is rejected. An unknown variant name fails with
// UnknownSource.
func (r *Registry) Build(specs map[string]Spec, env Env) (map[string]Source, error) {
	env = env.withDefaults()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Source, len(specs))
	for _, prefix := range slices.Sorted(maps.Keys(specs)) {
		spec := specs[prefix]
		factory, ok := r.factories[spec.Name]
		if !ok {
			return nil, citation.NewUnknownSourceError(spec.Name, prefix)
		}

		opts := maps.Clone(spec.Config)
		if opts == nil {
			opts = Options{}
		}
		if _, set := opts[OptCitePrefix]; !set {
			opts[OptCitePrefix] = prefix
		}

		src, err := factory(opts, env)
		if err != nil {
			return nil, fmt.Errorf("source %q (%s): %w", prefix, spec.Name, err)
		}
		if got := src.Config().CitePrefix; got != prefix {
			return nil, citation.NewFormatError("sources."+prefix,
				fmt.Sprintf("cite_prefix %q does not match its mapping key", got), nil)
		}
		out[prefix] = src
	}
	return out, nil
}

// DefaultRegistry returns a registry with every built-in variant.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, f := range map[string]Factory{
		ManualName:  func(o Options, e Env) (Source, error) { return NewManual(o) },
		BibfileName: func(o Options, e Env) (Source, error) { return NewBibfile(o, e) },
		InlineName:  func(o Options, e Env) (Source, error) { return NewInline(o) },
		DOIName:     func(o Options, e Env) (Source, error) { return NewDOI(o, e) },
		ArxivName:   func(o Options, e Env) (Source, error) { return NewArxiv(o, e) },
	} {
		if err := r.Register(name, f); err != nil {
			panic(err)
		}
	}
	return r
}

// DefaultSpecs is the source mapping used when the host configures none.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		"arxiv":  {Name: ArxivName},
		"doi":    {Name: DOIName},
		"manual": {Name: ManualName},
	}
}
