package countries

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/appointment-saga/internal/queue"
)

// Country binds a country code to its fan-out partition and detail store.
type Country struct {
	Code  string
	Queue queue.Client
	Store DetailStore
}

// Registry is the set of countries the saga routes to.
type Registry struct {
	countries map[string]Country
}

func NewRegistry() *Registry {
	return &Registry{countries: make(map[string]Country)}
}

// Register adds a country. Codes are case-insensitive and must be unique.
func (r *Registry) Register(c Country) error {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	if code == "" {
		return fmt.Errorf("countries: country code required")
	}
	if c.Queue == nil || c.Store == nil {
		return fmt.Errorf("countries: %s needs a queue and a detail store", code)
	}
	if _, dup := r.countries[code]; dup {
		return fmt.Errorf("countries: %s registered twice", code)
	}
	c.Code = code
	r.countries[code] = c
	return nil
}

// Get returns the country registered for code.
func (r *Registry) Get(code string) (Country, bool) {
	c, ok := r.countries[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// Codes lists the registered codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.countries))
	for code := range r.countries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Routes returns the code to queue mapping the fan-out router needs.
func (r *Registry) Routes() map[string]queue.Client {
	routes := make(map[string]queue.Client, len(r.countries))
	for code, c := range r.countries {
		routes[code] = c.Queue
	}
	return routes
}
