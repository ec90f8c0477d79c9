package kb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

// Compile-time interface check
var _ retrieval.KnowledgeStore = (*Memory)(nil)

type property struct {
	value      any
	confidence float64
	updatedAt  time.Time
}

// Memory is an in-memory knowledge store with the same surface as SQLite.
type Memory struct {
	mu        sync.RWMutex
	entities  map[string]map[string]property
	relations []retrieval.Relation
}

// NewMemory creates an empty in-memory knowledge store.
func NewMemory() *Memory {
	return &Memory{entities: make(map[string]map[string]property)}
}

// AddEntity registers an entity id.
func (m *Memory) AddEntity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		m.entities[id] = make(map[string]property)
	}
	return nil
}

// AddProperty sets a property on an entity, creating the entity when
// needed.
func (m *Memory) AddProperty(_ context.Context, entityID, name string, value any, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[entityID]; !ok {
		m.entities[entityID] = make(map[string]property)
	}
	m.entities[entityID][name] = property{
		value:      value,
		confidence: confidence,
		updatedAt:  time.Now().UTC(),
	}
	return nil
}

// AddRelation records a relation instance.
func (m *Memory) AddRelation(_ context.Context, source, relType, target string, confidence float64) error {
	if confidence == 0 {
		confidence = 1.0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations = append(m.relations, retrieval.Relation{
		Source:     source,
		Type:       relType,
		Target:     target,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

// RemoveEntity deletes an entity and every relation referencing it.
func (m *Memory) RemoveEntity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return fmt.Errorf("entity %q: %w", id, ErrEntityNotFound)
	}
	delete(m.entities, id)

	kept := m.relations[:0]
	for _, rel := range m.relations {
		if rel.Source != id && rel.Target != id {
			kept = append(kept, rel)
		}
	}
	m.relations = kept
	return nil
}

// GetEntityProperties returns an entity's properties.
func (m *Memory) GetEntityProperties(_ context.Context, entityID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	properties := make(map[string]any)
	for name, p := range m.entities[entityID] {
		properties[name] = p.value
	}
	return properties, nil
}

// GetEntityRelations returns every relation the entity participates in.
func (m *Memory) GetEntityRelations(_ context.Context, entityID string) ([]retrieval.Relation, error) {
	return m.matchRelations(func(rel retrieval.Relation) bool {
		return rel.Source == entityID || rel.Target == entityID
	}), nil
}

// GetRelationsFrom returns relations of one type leaving a source entity.
func (m *Memory) GetRelationsFrom(_ context.Context, source, relType string) ([]retrieval.Relation, error) {
	return m.matchRelations(func(rel retrieval.Relation) bool {
		return rel.Source == source && rel.Type == relType
	}), nil
}

// GetRelation returns relation instances matching source, type, and target.
func (m *Memory) GetRelation(_ context.Context, source, relType, target string) ([]retrieval.Relation, error) {
	return m.matchRelations(func(rel retrieval.Relation) bool {
		return rel.Source == source && rel.Type == relType && rel.Target == target
	}), nil
}

func (m *Memory) matchRelations(match func(retrieval.Relation) bool) []retrieval.Relation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []retrieval.Relation
	for _, rel := range m.relations {
		if match(rel) {
			out = append(out, rel)
		}
	}
	return out
}

// Query answers the same structured queries as the SQLite store.
func (m *Memory) Query(ctx context.Context, query map[string]any, filters map[string]any) ([]retrieval.Candidate, error) {
	if entity, ok := query["entity"].(string); ok {
		properties, err := m.GetEntityProperties(ctx, entity)
		if err != nil {
			return nil, err
		}
		if len(properties) == 0 {
			return nil, nil
		}
		content := map[string]any{"type": "entity", "id": entity}
		for name, value := range properties {
			content[name] = value
		}
		return []retrieval.Candidate{{
			Content:    content,
			Source:     "knowledge_store",
			Confidence: 1.0,
			Timestamp:  time.Now().UTC(),
		}}, nil
	}

	_, hasSource := query["source"]
	_, hasRelation := query["relation"]
	if hasSource || hasRelation {
		matched := m.matchRelations(func(rel retrieval.Relation) bool {
			if source, ok := query["source"].(string); ok && rel.Source != source {
				return false
			}
			if relType, ok := query["relation"].(string); ok && rel.Type != relType {
				return false
			}
			if target, ok := query["target"].(string); ok && rel.Target != target {
				return false
			}
			return true
		})
		return relationCandidates(matched), nil
	}

	if name, ok := query["property"].(string); ok {
		m.mu.RLock()
		defer m.mu.RUnlock()
		var candidates []retrieval.Candidate
		for entityID, properties := range m.entities {
			p, ok := properties[name]
			if !ok {
				continue
			}
			if want, given := query["value"]; given && fmt.Sprintf("%v", p.value) != fmt.Sprintf("%v", want) {
				continue
			}
			candidates = append(candidates, retrieval.Candidate{
				Content: map[string]any{
					"type": "property",
					"id":   entityID,
					name:   p.value,
				},
				Source:     "knowledge_store",
				Confidence: p.confidence,
				Timestamp:  p.updatedAt,
			})
		}
		return candidates, nil
	}

	return nil, fmt.Errorf("unrecognized structured query keys")
}

// SearchText finds entities and relations whose text contains the query.
func (m *Memory) SearchText(_ context.Context, text string, filters map[string]any) ([]retrieval.Candidate, error) {
	kind, _ := filters["type"].(string)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []retrieval.Candidate
	if kind == "" || kind == "entity" {
		for entityID, properties := range m.entities {
			for name, p := range properties {
				if !strings.Contains(entityID, text) &&
					!strings.Contains(name, text) &&
					!strings.Contains(fmt.Sprintf("%v", p.value), text) {
					continue
				}
				candidates = append(candidates, retrieval.Candidate{
					Content: map[string]any{
						"type": "property",
						"id":   entityID,
						name:   p.value,
					},
					Source:     "knowledge_store",
					Confidence: p.confidence,
					Timestamp:  p.updatedAt,
				})
			}
		}
	}
	if kind == "" || kind == "relation" {
		var matched []retrieval.Relation
		for _, rel := range m.relations {
			if strings.Contains(rel.Source, text) ||
				strings.Contains(rel.Type, text) ||
				strings.Contains(rel.Target, text) {
				matched = append(matched, rel)
			}
		}
		candidates = append(candidates, relationCandidates(matched)...)
	}
	return candidates, nil
}
