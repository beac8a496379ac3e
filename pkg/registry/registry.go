// Package registry holds the static catalog of callable tools.
//
// The registry is populated at startup and read-only afterwards; no locking
// is required on the lookup path.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Field describes one argument in a tool's schema.
type Field struct {
	Type        string // "string", "number", "integer", "boolean"
	Required    bool
	Description string
}

// Schema maps argument names to their specs.
type Schema map[string]Field

// Tool is a callable unit: a name, a typed argument schema, and an invoke
// handle. Implementations must be safe for concurrent invocation.
type Tool interface {
	Name() string
	Schema() Schema
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

type entry struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// Registry is the static tool catalog.
type Registry struct {
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool, compiling its argument schema. Duplicate names and
// uncompilable schemas are rejected.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	doc, err := schemaDocument(t.Schema())
	if err != nil {
		return fmt.Errorf("tool %q: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".json", doc)
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", name, err)
	}

	r.entries[name] = &entry{tool: t, compiled: compiled}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks args against the tool's compiled schema. Unknown tools and
// schema violations are errors; the tool is never invoked here.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.compiled.Validate(normalizeArgs(args)); err != nil {
		return fmt.Errorf("tool %q: invalid arguments: %w", name, err)
	}
	return nil
}

// MissingRequired returns the required fields absent from args, sorted.
func (r *Registry) MissingRequired(name string, args map[string]any) []string {
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	var missing []string
	for field, spec := range e.tool.Schema() {
		if !spec.Required {
			continue
		}
		if v, present := args[field]; !present || v == nil || v == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// schemaDocument renders a Schema as a JSON Schema object document.
func schemaDocument(s Schema) (string, error) {
	properties := make(map[string]any, len(s))
	var required []string
	for field, spec := range s {
		fieldType := spec.Type
		if fieldType == "" {
			fieldType = "string"
		}
		prop := map[string]any{"type": fieldType}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[field] = prop
		if spec.Required {
			required = append(required, field)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// normalizeArgs round-trips args through JSON so numeric types match what the
// schema validator expects from decoded JSON.
func normalizeArgs(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return args
	}
	return out
}
