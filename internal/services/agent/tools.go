package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool executes one named capability. Implementations must be safe for
// concurrent use; the same registry serves every run.
type Tool func(ctx context.Context, args map[string]any) (any, error)

// Registry holds the tools a run may invoke. Lookup is exact match on name;
// there is no fuzzy resolution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds or replaces a tool. Empty names and nil tools are rejected.
func (r *Registry) Register(name string, t Tool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tool name required")
	}
	if t == nil {
		return fmt.Errorf("tool %q is nil", name)
	}
	r.mu.Lock()
	r.tools[name] = t
	r.mu.Unlock()
	return nil
}

// Unregister removes a tool; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
