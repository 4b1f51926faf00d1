// Package registry loads tool profiles from a YAML file and validates
// extracted tool calls against them.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/efortin/toolsift/pkg/parser"
)

// Validation sentinels, matchable with errors.Is.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrMissingParameter = errors.New("missing required parameter")
)

// Parameter describes one parameter of a tool profile
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required"`
}

// Tool describes one tool profile
type Tool struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// registryFile is the on-disk shape of the tools file
type registryFile struct {
	Tools []Tool `yaml:"tools"`
}

// Registry holds the tool profiles in file order. Reload swaps the whole set
// atomically, so lookups during a reload see either the old or the new file.
type Registry struct {
	path  string
	mu    sync.RWMutex
	tools *orderedmap.OrderedMap[string, Tool]
}

// Load reads the tools file at path and returns the registry bound to it
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, tools: orderedmap.New[string, Tool]()}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the bound file. On failure the previous profiles stay in
// effect.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read tools file: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse tools file %s: %w", r.path, err)
	}

	tools := orderedmap.New[string, Tool]()
	for _, t := range f.Tools {
		if t.Name == "" {
			return fmt.Errorf("tools file %s: tool with empty name", r.path)
		}
		if _, dup := tools.Get(t.Name); dup {
			return fmt.Errorf("tools file %s: duplicate tool %q", r.path, t.Name)
		}
		tools.Set(t.Name, t)
	}

	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
	return nil
}

// Names returns the tool names in file order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Tools returns the tool profiles in file order
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		tools = append(tools, pair.Value)
	}
	return tools
}

// Lookup returns the profile registered under name
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Get(name)
}

// Validate checks an extracted tool call against the registered profiles:
// the tool must be registered and every required parameter present.
// Parameters outside the profile are accepted.
func (r *Registry) Validate(call *parser.ToolCall) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools.Get(call.Name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	for _, p := range tool.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := call.Parameters.Get(p.Name); !ok {
			return fmt.Errorf("%w: %s requires %q", ErrMissingParameter, tool.Name, p.Name)
		}
	}
	return nil
}
