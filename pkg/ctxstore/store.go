package ctxstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultHistoryLimit bounds the revert stack of previously active contexts.
// The oldest entries are discarded first once the limit is exceeded.
const DefaultHistoryLimit = 100

// Store owns a forest of contexts. All operations are safe for concurrent
// use; a single RWMutex guards the context map, the active pointer, and the
// history.
type Store struct {
	mu           sync.RWMutex
	contexts     map[string]*Context
	activeID     string
	history      []string
	historyLimit int
}

// NewStore creates an empty context store.
func NewStore() *Store {
	return &Store{
		contexts:     make(map[string]*Context),
		historyLimit: DefaultHistoryLimit,
	}
}

// CreateOptions carries the optional arguments to Create. Variables values
// may be full Variable records or bare values; bare values get their type
// tag inferred from their runtime shape.
type CreateOptions struct {
	ParentID  string
	Metadata  map[string]any
	Variables map[string]any
}

// Create registers a new context and returns a copy of it. A non-empty
// ParentID must reference an existing context; unknown parents fail with
// ErrNotFound. Parent links are immutable after creation, which keeps the
// forest acyclic by construction.
func (s *Store) Create(name string, typ Type, opts CreateOptions) (*Context, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: context name is required", ErrInvalidArgument)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown context type %q", ErrInvalidArgument, typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.ParentID != "" {
		if _, ok := s.contexts[opts.ParentID]; !ok {
			return nil, fmt.Errorf("parent context %q: %w", opts.ParentID, ErrNotFound)
		}
	}

	now := time.Now().UTC()
	c := &Context{
		ID:        ulid.Make().String(),
		Name:      name,
		Type:      typ,
		Variables: make(map[string]*Variable),
		ParentID:  opts.ParentID,
		Metadata:  cloneMetadata(opts.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for varName, value := range opts.Variables {
		c.Variables[varName] = newVariable(varName, value, "", nil, now)
	}

	s.contexts[c.ID] = c
	return c.clone(), nil
}

// Get returns a copy of the context with the given id.
func (s *Store) Get(id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[id]
	if !ok {
		return nil, fmt.Errorf("context %q: %w", id, ErrNotFound)
	}
	return c.clone(), nil
}

// Update merges metadata entries and sets variables on an existing context.
func (s *Store) Update(id string, metadata map[string]any, variables map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[id]
	if !ok {
		return fmt.Errorf("context %q: %w", id, ErrNotFound)
	}

	now := time.Now().UTC()
	for k, v := range metadata {
		c.Metadata[k] = v
	}
	for name, value := range variables {
		c.Variables[name] = newVariable(name, value, "", nil, now)
	}
	c.UpdatedAt = now
	return nil
}

// Delete removes a context. The active pointer is cleared if it referenced
// the deleted context, and the id is purged from history.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[id]; !ok {
		return fmt.Errorf("context %q: %w", id, ErrNotFound)
	}
	delete(s.contexts, id)

	if s.activeID == id {
		s.activeID = ""
	}
	kept := s.history[:0]
	for _, entry := range s.history {
		if entry != id {
			kept = append(kept, entry)
		}
	}
	s.history = kept
	return nil
}

// SetActive switches the active context, pushing the previously active id
// onto the history stack. Activating with no prior active context pushes
// nothing.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[id]; !ok {
		return fmt.Errorf("context %q: %w", id, ErrNotFound)
	}

	if s.activeID != "" {
		s.history = append(s.history, s.activeID)
		if len(s.history) > s.historyLimit {
			s.history = s.history[len(s.history)-s.historyLimit:]
		}
	}
	s.activeID = id
	return nil
}

// Active returns a copy of the active context, or false when none is set.
func (s *Store) Active() (*Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[s.activeID]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Revert pops the most recently superseded context off the history and makes
// it active again. Reverting with an empty history fails without mutating
// anything.
func (s *Store) Revert() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return ErrHistoryEmpty
	}
	id := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.activeID = id
	return nil
}

// GetVariable resolves a variable in the given context (the active context
// when contextID is empty) and, on miss, walks the parent chain. Returns
// ErrVariableUnknown when no context in the chain defines it.
func (s *Store) GetVariable(name, contextID string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.resolveLocked(contextID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for c != nil && !seen[c.ID] {
		seen[c.ID] = true
		if v, ok := c.Variables[name]; ok {
			return v.Value, nil
		}
		c = s.contexts[c.ParentID]
	}
	return nil, fmt.Errorf("variable %q: %w", name, ErrVariableUnknown)
}

// SetVariable creates or overwrites a variable in the exact context given
// (the active context when contextID is empty); ancestors are never touched.
// An empty varType infers the tag from the value's shape.
func (s *Store) SetVariable(contextID, name string, value any, varType string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.resolveLocked(contextID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	c.Variables[name] = newVariable(name, value, varType, metadata, now)
	c.UpdatedAt = now
	return nil
}

// RemoveVariable deletes a variable from the exact context given.
func (s *Store) RemoveVariable(contextID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.resolveLocked(contextID)
	if err != nil {
		return err
	}
	if _, ok := c.Variables[name]; !ok {
		return fmt.Errorf("variable %q: %w", name, ErrVariableUnknown)
	}
	delete(c.Variables, name)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Merge copies all of the source context's variables into the target. On a
// name collision the target's value is kept unless override is true.
func (s *Store) Merge(sourceID, targetID string, override bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.contexts[sourceID]
	if !ok {
		return fmt.Errorf("source context %q: %w", sourceID, ErrNotFound)
	}
	dst, ok := s.contexts[targetID]
	if !ok {
		return fmt.Errorf("target context %q: %w", targetID, ErrNotFound)
	}

	for name, v := range src.Variables {
		if _, exists := dst.Variables[name]; exists && !override {
			continue
		}
		dst.Variables[name] = v.clone()
	}
	dst.UpdatedAt = time.Now().UTC()
	return nil
}

// Derive creates a child of parentID, optionally copying the parent's
// variables by value into the child. An empty type inherits the parent's.
func (s *Store) Derive(parentID, name string, typ Type, metadata map[string]any, inheritVariables bool) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.contexts[parentID]
	if !ok {
		return nil, fmt.Errorf("parent context %q: %w", parentID, ErrNotFound)
	}
	if typ == "" {
		typ = parent.Type
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown context type %q", ErrInvalidArgument, typ)
	}

	now := time.Now().UTC()
	child := &Context{
		ID:        ulid.Make().String(),
		Name:      name,
		Type:      typ,
		Variables: make(map[string]*Variable),
		ParentID:  parentID,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if inheritVariables {
		for varName, v := range parent.Variables {
			child.Variables[varName] = v.clone()
		}
	}

	s.contexts[child.ID] = child
	return child.clone(), nil
}

// Hierarchy returns the chain from the given context (the active one when
// contextID is empty) up to its root, child first. The chain stops at the
// first context whose parent cannot be resolved, and is empty when the
// starting context is unknown or absent.
func (s *Store) Hierarchy(contextID string) []*Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.resolveLocked(contextID)
	if err != nil {
		return nil
	}

	var chain []*Context
	seen := make(map[string]bool)
	for c != nil && !seen[c.ID] {
		seen[c.ID] = true
		chain = append(chain, c.clone())
		c = s.contexts[c.ParentID]
	}
	return chain
}

// Snapshot flattens a context's hierarchy into one name-to-value mapping.
// Ancestor values are applied first so each more specific descendant
// overrides them.
func (s *Store) Snapshot(contextID string) map[string]any {
	chain := s.Hierarchy(contextID)

	flat := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for name, v := range chain[i].Variables {
			flat[name] = v.Value
		}
	}
	return flat
}

// History returns a copy of the revert stack, oldest first.
func (s *Store) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// List returns copies of every context, ordered by creation time then id.
func (s *Store) List() []*Context {
	s.mu.RLock()
	out := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of contexts in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// resolveLocked maps a possibly empty context id to a live context record.
// Callers must hold the mutex.
func (s *Store) resolveLocked(contextID string) (*Context, error) {
	if contextID == "" {
		if s.activeID == "" {
			return nil, ErrNoActiveContext
		}
		contextID = s.activeID
	}
	c, ok := s.contexts[contextID]
	if !ok {
		return nil, fmt.Errorf("context %q: %w", contextID, ErrNotFound)
	}
	return c, nil
}

// newVariable builds a Variable from either a full record or a bare value.
func newVariable(name string, value any, varType string, metadata map[string]any, now time.Time) *Variable {
	switch v := value.(type) {
	case *Variable:
		cp := v.clone()
		cp.Name = name
		cp.UpdatedAt = now
		return cp
	case Variable:
		cp := v.clone()
		cp.Name = name
		cp.UpdatedAt = now
		return cp
	case map[string]any:
		// Decoded JSON delivers full records as plain mappings.
		if rec, ok := variableRecord(v); ok {
			rec.Name = name
			rec.UpdatedAt = now
			return rec
		}
	}
	if varType == "" {
		varType = InferVariableType(value)
	}
	return &Variable{
		Name:      name,
		Value:     value,
		Type:      varType,
		Metadata:  cloneMetadata(metadata),
		UpdatedAt: now,
	}
}

// variableRecord interprets a mapping as a full variable record when it
// carries a "value" key and nothing beyond the record fields. Any other
// mapping is stored as an ordinary mapping-valued variable.
func variableRecord(m map[string]any) (*Variable, bool) {
	value, ok := m["value"]
	if !ok {
		return nil, false
	}
	rec := &Variable{Value: value}
	for key, field := range m {
		switch key {
		case "value":
		case "type":
			s, ok := field.(string)
			if !ok {
				return nil, false
			}
			rec.Type = s
		case "metadata":
			if field == nil {
				continue
			}
			md, ok := field.(map[string]any)
			if !ok {
				return nil, false
			}
			rec.Metadata = cloneMetadata(md)
		default:
			return nil, false
		}
	}
	if rec.Type == "" {
		rec.Type = InferVariableType(value)
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	return rec, true
}
