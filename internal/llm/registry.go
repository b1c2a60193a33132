package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Name returns "func".
func (f CompleterFunc) Name() string { return "func" }

// Registry routes completion requests to named providers and owns the model
// catalog agents rotate through. Model hints use "provider/model" form; a
// bare model or empty hint goes to the default provider.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Completer
	defaultName string
	catalog     []string
	rng         *rand.Rand
}

// NewRegistry creates a registry. The first registered provider becomes the
// default unless SetDefault is called.
func NewRegistry(rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewSource(1)) // #nosec G404 -- model rotation, not security
	}
	return &Registry{
		providers: make(map[string]Completer),
		rng:       rng,
	}
}

// Register adds a provider under its Name.
func (r *Registry) Register(c Completer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[c.Name()] = c
	if r.defaultName == "" {
		r.defaultName = c.Name()
	}
}

// SetDefault selects the fallback provider for bare model hints.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		r.defaultName = name
	}
}

// SetCatalog replaces the rotation catalog ("provider/model" entries).
func (r *Registry) SetCatalog(models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = append([]string(nil), models...)
}

// Complete resolves the model hint and forwards the request.
func (r *Registry) Complete(ctx context.Context, modelHint string, req Request) (string, error) {
	provider, model, err := r.resolve(modelHint)
	if err != nil {
		return "", err
	}
	req.Model = model
	return provider.Complete(ctx, req)
}

// Name returns "registry".
func (r *Registry) Name() string { return "registry" }

func (r *Registry) resolve(hint string) (Completer, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return nil, "", fmt.Errorf("llm: no providers registered")
	}
	name, model := r.defaultName, hint
	if before, after, ok := strings.Cut(hint, "/"); ok {
		if _, known := r.providers[before]; known {
			name, model = before, after
		}
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, "", fmt.Errorf("llm: unknown provider %q", name)
	}
	return provider, model, nil
}

// RotateModel returns a catalog entry different from current when possible.
// With an empty catalog it returns current unchanged.
func (r *Registry) RotateModel(current string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.catalog) == 0 {
		return current
	}
	if len(r.catalog) == 1 {
		return r.catalog[0]
	}
	for {
		next := r.catalog[r.rng.Intn(len(r.catalog))]
		if next != current {
			return next
		}
	}
}
