package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

const (
	// MaxToolParamsSize is the maximum size of tool parameters in bytes (1MB).
	MaxToolParamsSize = 1 << 20

	// DefaultMaxCatalog caps the tools exposed to the model when no limit is set.
	DefaultMaxCatalog = 64
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ToolRegistry maps tool names to implementations. It is safe for concurrent use.
type ToolRegistry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	maxCatalog int
	schemas    schemaCache
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithMaxCatalog caps the number of tools Catalog returns.
func WithMaxCatalog(n int) RegistryOption {
	return func(r *ToolRegistry) {
		if n > 0 {
			r.maxCatalog = n
		}
	}
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		maxCatalog: DefaultMaxCatalog,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name. The schema is
// compiled eagerly so a broken schema fails at startup, not mid-turn.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidToolName, name)
	}
	if schema := tool.Schema(); len(schema) > 0 {
		if _, err := r.schemas.compile(name, schema); err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// MustRegister is Register for static wiring at startup.
func (r *ToolRegistry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// MaxCatalog returns the configured catalog limit.
func (r *ToolRegistry) MaxCatalog() int {
	return r.maxCatalog
}

// All returns every registered tool in catalog order.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	r.mu.RUnlock()
	SortCatalog(tools)
	return tools
}

// Catalog returns the tools exposed to the model, capped at MaxCatalog, along
// with the names that did not fit. Internal tools are left out.
func (r *ToolRegistry) Catalog() ([]Tool, []string) {
	return TruncateCatalog(r.Exposed(), r.maxCatalog)
}

// Exposed returns the non-internal tools in catalog order.
func (r *ToolRegistry) Exposed() []Tool {
	all := r.All()
	out := all[:0]
	for _, t := range all {
		if !isInternal(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsExposed reports whether name is registered and may be offered to the model.
func (r *ToolRegistry) IsExposed(name string) bool {
	t, ok := r.Get(name)
	return ok && !isInternal(t)
}

// Execute validates params against the tool schema and runs the tool. Lookup
// and validation failures come back as error results, not Go errors.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content:   fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError:   true,
			ErrorKind: ToolErrorInvalidInput,
		}, nil
	}

	tool, ok := r.Get(name)
	if !ok {
		return &ToolResult{
			Content:   "tool not found: " + name,
			IsError:   true,
			ErrorKind: ToolErrorNotFound,
		}, nil
	}

	if err := r.schemas.validate(name, tool.Schema(), params); err != nil {
		return &ToolResult{
			Content:   err.Error(),
			IsError:   true,
			ErrorKind: ToolErrorInvalidInput,
		}, nil
	}

	return tool.Execute(ctx, params)
}
