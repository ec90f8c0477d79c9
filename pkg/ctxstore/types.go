// Package ctxstore implements a hierarchical store of named, typed contexts
// with inheritable variables. Contexts form a forest: each context may point
// at a parent, variable lookups walk the ancestor chain, and Snapshot
// flattens a chain into a single mapping with the most specific value
// winning. The store also tracks one active context and a bounded history of
// previously active contexts used as a revert stack.
package ctxstore

import (
	"time"
)

// Type classifies a context.
type Type string

const (
	TypeTemporal Type = "TEMPORAL"
	TypeSpatial  Type = "SPATIAL"
	TypeThematic Type = "THEMATIC"
	TypeTask     Type = "TASK"
	TypeDialogue Type = "DIALOGUE"
	TypeUser     Type = "USER"
	TypeSystem   Type = "SYSTEM"
	TypeCustom   Type = "CUSTOM"
)

// Valid reports whether t is one of the known context types.
func (t Type) Valid() bool {
	switch t {
	case TypeTemporal, TypeSpatial, TypeThematic, TypeTask,
		TypeDialogue, TypeUser, TypeSystem, TypeCustom:
		return true
	}
	return false
}

// Variable is a single named value held by a context.
type Variable struct {
	Name      string         `json:"name"`
	Value     any            `json:"value"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	UpdatedAt time.Time      `json:"timestamp"`
}

func (v *Variable) clone() *Variable {
	cp := *v
	cp.Metadata = cloneMetadata(v.Metadata)
	return &cp
}

// Context is a named, typed bag of variables, optionally inheriting from a
// parent context. The parent link is set at creation time and never mutated.
type Context struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Type      Type                 `json:"type"`
	Variables map[string]*Variable `json:"variables"`
	ParentID  string               `json:"parent_id,omitempty"`
	Metadata  map[string]any       `json:"metadata"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (c *Context) clone() *Context {
	cp := *c
	cp.Variables = make(map[string]*Variable, len(c.Variables))
	for name, v := range c.Variables {
		cp.Variables[name] = v.clone()
	}
	cp.Metadata = cloneMetadata(c.Metadata)
	return &cp
}

func cloneMetadata(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// InferVariableType derives a type tag from a value's runtime shape. Used
// when a variable is created from a bare value without an explicit type.
func InferVariableType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	default:
		return "unknown"
	}
}
