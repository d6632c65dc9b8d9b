package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tos-network/refilld/log"
)

// Factory builds one client for a provider name. Factories are registered by
// the node from configuration before Initialize runs.
type Factory func() (Provider, error)

// Registry owns the singleton provider clients, keyed by canonical lowercase
// name. It is initialized once at boot and read-only afterwards.
type Registry struct {
	mu          sync.Mutex
	factories   map[string]Factory
	clients     map[string]Provider
	initialized bool

	log log.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		clients:   make(map[string]Provider),
		log:       log.New("component", "providers"),
	}
}

// RegisterFactory installs the constructor for one provider name. Must be
// called before Initialize; later calls are ignored.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		r.log.Warn("Factory registered after initialization, ignored", "provider", name)
		return
	}
	r.factories[strings.ToLower(name)] = factory
}

// Initialize builds and authenticates one client per referenced provider
// name. It is idempotent: a second call returns immediately. A referenced
// name without a registered factory is skipped with a warning; admission
// later rejects such assets with its provider-availability code. A factory
// or credential failure aborts initialization.
func (r *Registry) Initialize(ctx context.Context, referenced []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	seen := make(map[string]bool)
	for _, name := range referenced {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		factory, ok := r.factories[name]
		if !ok {
			r.log.Warn("No configuration for referenced provider", "provider", name)
			continue
		}
		client, err := factory()
		if err != nil {
			return fmt.Errorf("provider: building %s client: %w", name, err)
		}
		if err := client.Init(ctx); err != nil {
			return fmt.Errorf("provider: initializing %s client: %w", name, err)
		}
		r.clients[name] = client
		r.log.Info("Custody provider initialized", "provider", name)
	}
	r.initialized = true
	return nil
}

// Get returns the singleton client for a canonical name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	client, ok := r.clients[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return client, nil
}

// Names lists the initialized provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
