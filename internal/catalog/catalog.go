// Package catalog is the static registry of operations the agent may plan:
// each capability has a name, a human label, a typed argument schema and an
// optional prerequisite list consumed by the plan preparer.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed catalog.json
var embedded []byte

// Param describes one argument field of a capability. Order in the slice is
// the order shown to the planning oracle.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Descriptor is one immutable capability entry.
type Descriptor struct {
	Name        string  `json:"name"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters"`

	// ReadOnly marks search/fetch capabilities with no side effects.
	ReadOnly bool `json:"read_only,omitempty"`
	// Risky capabilities need explicit user confirmation before execution.
	Risky bool `json:"risky,omitempty"`

	// Prerequisites lists tools that must have completed before this one,
	// unless RequiredEntity is already present in the mission's resolved
	// entities.
	Prerequisites  []string `json:"prerequisites,omitempty"`
	RequiredEntity string   `json:"required_entity,omitempty"`

	// Hint is the user-facing suggestion shown when this tool exhausts its
	// correction budget.
	Hint string `json:"hint,omitempty"`
}

// Registry resolves tool names to descriptors. Immutable after load.
type Registry struct {
	descriptors []Descriptor
	byName      map[string]Descriptor
}

// Load returns the registry baked into the binary.
func Load() (*Registry, error) {
	return parse(embedded)
}

// LoadFile reads a registry from an external JSON file, for deployments that
// override the built-in capability set.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability catalog: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var doc struct {
		Capabilities []Descriptor `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capability catalog: %w", err)
	}

	byName := make(map[string]Descriptor, len(doc.Capabilities))
	for _, d := range doc.Capabilities {
		if d.Name == "" {
			return nil, fmt.Errorf("capability with empty name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate capability: %s", d.Name)
		}
		byName[d.Name] = d
	}
	return &Registry{descriptors: doc.Capabilities, byName: byName}, nil
}

// Get returns the descriptor for a tool name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns the descriptors in catalog order.
func (r *Registry) All() []Descriptor { return r.descriptors }

// Label maps a tool name to its human-readable label. Unknown tools fall
// back to a generic form so user-facing output never shows a bare internal
// name alone.
func (r *Registry) Label(name string) string {
	if d, ok := r.byName[name]; ok && d.Label != "" {
		return d.Label
	}
	return fmt.Sprintf("operation %q", name)
}

// ValidateArgs checks a proposed argument map against the descriptor:
// missing required fields and unknown fields are both rejected here, at the
// planning boundary, rather than deep in execution.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	d, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("tool %q is not in the capability catalog", name)
	}

	known := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		known[p.Name] = true
		if !p.Required {
			continue
		}
		v, present := args[p.Name]
		if !present || v == nil {
			return fmt.Errorf("tool %q is missing required argument %q", name, p.Name)
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return fmt.Errorf("tool %q has empty required argument %q", name, p.Name)
		}
	}
	for k := range args {
		if !known[k] {
			return fmt.Errorf("tool %q does not accept argument %q", name, k)
		}
	}
	return nil
}

// PromptPart renders the catalog as the tools block of the planning prompt.
func (r *Registry) PromptPart() string {
	var sb strings.Builder
	sb.WriteString("AVAILABLE TOOLS:\n")
	for _, d := range r.descriptors {
		var req, opt []string
		for _, p := range d.Parameters {
			if p.Required {
				req = append(req, p.Name)
			} else {
				opt = append(opt, p.Name)
			}
		}
		sb.WriteString(fmt.Sprintf("- `%s`: %s", d.Name, d.Description))
		if len(req) > 0 {
			sb.WriteString(fmt.Sprintf(" Required args: [%s].", strings.Join(req, ", ")))
		}
		if len(opt) > 0 {
			sb.WriteString(fmt.Sprintf(" Optional args: [%s].", strings.Join(opt, ", ")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Hint returns the per-tool escalation hint, or a generic fallback.
func (r *Registry) Hint(name string) string {
	if d, ok := r.byName[name]; ok && d.Hint != "" {
		return d.Hint
	}
	return "Try rephrasing your request or give me a bit more detail."
}
