package ctxstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// document is the persisted wire form of a Store.
type document struct {
	Contexts        map[string]*Context `json:"contexts"`
	ActiveContextID string              `json:"active_context_id,omitempty"`
	ContextHistory  []string            `json:"context_history"`
}

// Save writes the full store state as a JSON document.
func (s *Store) Save(w io.Writer) error {
	s.mu.RLock()
	doc := document{
		Contexts:        make(map[string]*Context, len(s.contexts)),
		ActiveContextID: s.activeID,
		ContextHistory:  make([]string, len(s.history)),
	}
	for id, c := range s.contexts {
		doc.Contexts[id] = c.clone()
	}
	copy(doc.ContextHistory, s.history)
	s.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode context document: %w", err)
	}
	return nil
}

// Load replaces the store's entire state with the document read from r.
// The document is decoded and validated before any in-memory state is
// touched, so a malformed document leaves the prior state intact.
func (s *Store) Load(r io.Reader) error {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode context document: %w", err)
	}
	if err := validateDocument(&doc); err != nil {
		return err
	}

	contexts := make(map[string]*Context, len(doc.Contexts))
	for id, c := range doc.Contexts {
		if c.Variables == nil {
			c.Variables = make(map[string]*Variable)
		}
		for name, v := range c.Variables {
			if v.Name == "" {
				v.Name = name
			}
			if v.Metadata == nil {
				v.Metadata = make(map[string]any)
			}
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]any)
		}
		contexts[id] = c
	}

	s.mu.Lock()
	s.contexts = contexts
	s.activeID = doc.ActiveContextID
	s.history = doc.ContextHistory
	if len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
	s.mu.Unlock()
	return nil
}

func validateDocument(doc *document) error {
	for id, c := range doc.Contexts {
		if c == nil {
			return fmt.Errorf("context document: entry %q is null", id)
		}
		if c.ID != id {
			return fmt.Errorf("context document: entry %q has mismatched id %q", id, c.ID)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("context document: entry %q has unknown type %q", id, c.Type)
		}
		if c.ParentID != "" {
			if _, ok := doc.Contexts[c.ParentID]; !ok {
				return fmt.Errorf("context document: entry %q references unknown parent %q", id, c.ParentID)
			}
		}
		for name, v := range c.Variables {
			if v == nil {
				return fmt.Errorf("context document: entry %q has null variable %q", id, name)
			}
		}
	}
	if doc.ActiveContextID != "" {
		if _, ok := doc.Contexts[doc.ActiveContextID]; !ok {
			return fmt.Errorf("context document: active context %q does not exist", doc.ActiveContextID)
		}
	}
	for _, id := range doc.ContextHistory {
		if _, ok := doc.Contexts[id]; !ok {
			return fmt.Errorf("context document: history references unknown context %q", id)
		}
	}
	return nil
}

// SaveFile writes the store to a file, creating parent directories.
func (s *Store) SaveFile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create document directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create context document: %w", err)
	}
	if err := s.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile replaces the store state from a file.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open context document: %w", err)
	}
	defer f.Close()

	return s.Load(f)
}
