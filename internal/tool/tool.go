// Package tool builds callable tool definitions from tagged provider methods
// and renders their argument structs into JSON Schema, the Go counterpart of
// core/tools.py's reflection-based ToolProvider/ToolMeta/Tool machinery.
//
// Go has no runtime decorators and no parameter-name reflection on funcs, so
// a tool's arguments are described by an ordinary Go struct with `json` tags:
// ArgsSchema walks that struct's fields the way the source walked a method's
// type hints, delegating the actual type-to-schema rendering to
// github.com/invopop/jsonschema, the same library internal/config/schema.go
// uses in the system this package is based on.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Meta identifies a tool and documents it for a model's tool-calling prompt.
type Meta struct {
	Name string
	Docs string
}

// Handler executes a tool call against its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a single invocable unit: its identity, its JSON Schema (as sent to
// a chat model that supports native tool-calling, or rendered into an
// induced tool-call prompt), the argument names a caller may supply, and the
// bound function that runs it.
type Tool struct {
	Meta     Meta
	ArgNames []string
	Schema   json.RawMessage
	Run      Handler
}

// FunctionSchema is the `{type: "function", function: {...}}` envelope most
// chat-completion APIs expect for a single tool.
type FunctionSchema struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the inner body of FunctionSchema.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CallSchema renders the tool as a FunctionSchema, ready to marshal for a
// chat model's tools parameter or for an induced tool-call instruction.
func (t Tool) CallSchema() FunctionSchema {
	return FunctionSchema{
		Type: "function",
		Function: FunctionDefinition{
			Name:        t.Meta.Name,
			Description: t.Meta.Docs,
			Parameters:  t.Schema,
		},
	}
}

// Provider groups related tools under one namespace. A tool's full,
// callable name is "<ProviderName>.<tag>", mirroring the
// "{class_name}.{tag_name}" convention the source used.
type Provider interface {
	ProviderName() string
	Tools() []Tool
}

// QualifyName builds the full dotted name a registry and a model both use to
// address a tool exposed by a provider.
func QualifyName(providerName, tag string) string {
	return providerName + "." + tag
}

// argsReflector renders a Go struct's field types into a JSON Schema object
// via invopop/jsonschema. Required-ness and the argument-name list are
// still this package's own concern (driven by the `tool:"required"` tag,
// which invopop has no notion of), so Reflect's output is only the starting
// point for each field's *type* schema.
var argsReflector = &jsonschema.Reflector{FieldNameTag: "json"}

// ArgsSchema reflects over a struct type (pass a zero value or pointer to
// one) and renders it into a JSON Schema object, plus the ordered list of
// its argument names. Field order follows declaration order, matching how
// the source preserved parameter order from function signatures.
//
// Supported field kinds are whatever invopop/jsonschema supports (strings,
// numbers, bools, slices, maps, nested structs, pointers). A field tagged
// `json:"-"` is skipped. Fields without a `tool:"required"` tag are treated
// as optional, matching the source's "has a default value" rule.
func ArgsSchema(argsStruct any) (schema json.RawMessage, argNames []string, err error) {
	t := reflect.TypeOf(argsStruct)
	if t == nil {
		return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`), nil, nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("tool: ArgsSchema requires a struct, got %s", t.Kind())
	}

	var required []string
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonTag := f.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := f.Name
		if parts := strings.Split(jsonTag, ","); parts[0] != "" {
			name = parts[0]
		}
		names = append(names, name)
		if f.Tag.Get("tool") == "required" {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	raw := argsReflector.Reflect(reflect.New(t).Interface())
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("tool: marshal reflected schema: %w", err)
	}
	var top map[string]any
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, nil, fmt.Errorf("tool: decode reflected schema: %w", err)
	}

	// invopop/jsonschema emits a top-level $ref into $defs for named struct
	// types rather than an inline object; pull the actual definition out so
	// the tool's Schema is the flat object a model's tools parameter expects.
	obj := top
	if ref, ok := top["$ref"].(string); ok {
		if defs, ok := top["$defs"].(map[string]any); ok {
			key := strings.TrimPrefix(ref, "#/$defs/")
			if def, ok := defs[key].(map[string]any); ok {
				obj = def
			}
		}
	}
	delete(obj, "$schema")
	delete(obj, "$id")
	obj["additionalProperties"] = false
	if len(required) > 0 {
		obj["required"] = required
	} else {
		delete(obj, "required")
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("tool: marshal schema: %w", err)
	}
	return json.RawMessage(out), names, nil
}

// Registry holds every tool an agent has bound, keyed by its full dotted
// name. Registration and lookups are guarded by a single read/write lock; a
// tool's handler runs outside it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds every tool from a provider, qualified with the provider's
// name. Re-registering a provider overwrites its previous tools.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range p.Tools() {
		full := QualifyName(p.ProviderName(), t.Meta.Name)
		t.Meta.Name = full
		r.tools[full] = t
	}
}

// Get looks up a tool by its exact, full dotted name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool's full name, for the tool aligner's
// name pool and for rendering the bound-tools list into prompts.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every registered tool, for building a model's bound-tools list.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.Name < out[j].Meta.Name })
	return out
}

// Execute runs a tool looked up by its exact name. Callers that must
// tolerate misspelled names or argument keys should resolve through the
// aligner first and call Execute with the corrected name.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool: %q not found in registry", name)
	}
	return t.Run(ctx, args)
}
