// Package councils holds the per-council scraper modules and their registry.
// Each module knows how to turn a postcode/UPRN into the list of upcoming bin
// collections published by that council's web front end.
package councils

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"binportal/internal/config"
	"binportal/internal/models"
	"binportal/pkg/logger"
)

// BrowserRenderer is the part of the browser manager scrapers need. Modules
// whose councils render schedules client-side fetch documents through it.
type BrowserRenderer interface {
	RenderHTML(ctx context.Context, url, waitSelector string) (string, error)
}

// Query carries everything a scraper needs for one lookup.
type Query struct {
	Address models.Address
	Client  *http.Client
	Browser BrowserRenderer
	Logger  *logger.Logger
}

// Scraper is a council module.
type Scraper interface {
	// Name is the module identifier exposed by GET /get_councils.
	Name() string

	// RequiresBrowser reports whether the module needs headless Chrome.
	RequiresBrowser() bool

	// Collect fetches the upcoming collections for the query's address.
	Collect(ctx context.Context, q *Query) ([]models.Bin, error)
}

// Registry tracks registered council modules by name.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register adds a module; duplicate names are an error.
func (r *Registry) Register(s Scraper) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scrapers[s.Name()]; exists {
		return fmt.Errorf("council module already registered: %s", s.Name())
	}
	r.scrapers[s.Name()] = s
	return nil
}

// Get looks up a module by name.
func (r *Registry) Get(name string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	return s, ok
}

// Names returns the sorted module names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry builds the registry with every shipped council module.
func DefaultRegistry(cfg config.ScrapeConfig) (*Registry, error) {
	registry := NewRegistry()

	modules := []Scraper{
		NewWiltshire(cfg),
		NewSwindon(cfg),
	}
	for _, m := range modules {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// dedupeBins drops exact duplicates while preserving order. Overlapping
// calendar requests can repeat entries.
func dedupeBins(bins []models.Bin) []models.Bin {
	seen := make(map[models.Bin]struct{}, len(bins))
	out := bins[:0]
	for _, b := range bins {
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
