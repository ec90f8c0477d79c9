// Package kb implements the knowledge-store collaborator consumed by the
// retriever: entity properties, relation instances, structured queries, and
// free-text search. The primary implementation is SQLite-backed; a memory
// implementation covers tests and zero-config runs.
package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

var ErrEntityNotFound = errors.New("entity not found")

// Compile-time interface check
var _ retrieval.KnowledgeStore = (*SQLite)(nil)

// SQLite is the SQLite-backed knowledge store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the knowledge database, applies pragmas, and
// runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AddEntity registers an entity id. Adding an existing entity is a no-op.
func (s *SQLite) AddEntity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, time.Now().UTC().Format(time.RFC3339))
	return err
}

// AddProperty sets a property on an entity, creating the entity when
// needed. Values are stored JSON-encoded.
func (s *SQLite) AddProperty(ctx context.Context, entityID, name string, value any, confidence float64) error {
	if err := s.AddEntity(ctx, entityID); err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode property value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO properties (entity_id, name, value, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, name) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`, entityID, name, string(encoded), confidence, time.Now().UTC().Format(time.RFC3339))
	return err
}

// AddRelation records a relation instance between two entities.
func (s *SQLite) AddRelation(ctx context.Context, source, relType, target string, confidence float64) error {
	if confidence == 0 {
		confidence = 1.0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (id, source, type, target, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ulid.Make().String(), source, relType, target, confidence, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RemoveEntity deletes an entity, its properties, and every relation that
// references it.
func (s *SQLite) RemoveEntity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("entity %q: %w", id, ErrEntityNotFound)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM relations WHERE source = ? OR target = ?", id, id)
	return err
}

// GetEntityProperties returns an entity's properties as a name-to-value
// mapping.
func (s *SQLite) GetEntityProperties(ctx context.Context, entityID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM properties WHERE entity_id = ?", entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	properties := make(map[string]any)
	for rows.Next() {
		var name, encoded string
		if err := rows.Scan(&name, &encoded); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			return nil, fmt.Errorf("decode property %q: %w", name, err)
		}
		properties[name] = value
	}
	return properties, rows.Err()
}

// GetEntityRelations returns every relation the entity participates in.
func (s *SQLite) GetEntityRelations(ctx context.Context, entityID string) ([]retrieval.Relation, error) {
	return s.queryRelations(ctx,
		"SELECT source, type, target, confidence, created_at FROM relations WHERE source = ? OR target = ?",
		entityID, entityID)
}

// GetRelationsFrom returns relations of one type leaving a source entity.
func (s *SQLite) GetRelationsFrom(ctx context.Context, source, relType string) ([]retrieval.Relation, error) {
	return s.queryRelations(ctx,
		"SELECT source, type, target, confidence, created_at FROM relations WHERE source = ? AND type = ?",
		source, relType)
}

// GetRelation returns relation instances matching source, type, and target.
func (s *SQLite) GetRelation(ctx context.Context, source, relType, target string) ([]retrieval.Relation, error) {
	return s.queryRelations(ctx,
		"SELECT source, type, target, confidence, created_at FROM relations WHERE source = ? AND type = ? AND target = ?",
		source, relType, target)
}

func (s *SQLite) queryRelations(ctx context.Context, query string, args ...any) ([]retrieval.Relation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []retrieval.Relation
	for rows.Next() {
		var rel retrieval.Relation
		var createdAt string
		if err := rows.Scan(&rel.Source, &rel.Type, &rel.Target, &rel.Confidence, &createdAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rel.CreatedAt = t
		}
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

// Query answers a structured key/value query. Recognized keys: "entity"
// fetches one entity's properties; "source"/"relation"/"target" match
// relation instances; "property" (optionally with "value") finds entities
// carrying that property.
func (s *SQLite) Query(ctx context.Context, query map[string]any, filters map[string]any) ([]retrieval.Candidate, error) {
	if entity, ok := query["entity"].(string); ok {
		properties, err := s.GetEntityProperties(ctx, entity)
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

	if _, ok := query["source"]; ok {
		return s.queryRelationCandidates(ctx, query)
	}
	if _, ok := query["relation"]; ok {
		return s.queryRelationCandidates(ctx, query)
	}

	if property, ok := query["property"].(string); ok {
		return s.queryPropertyCandidates(ctx, property, query["value"])
	}

	return nil, fmt.Errorf("unrecognized structured query keys")
}

func (s *SQLite) queryRelationCandidates(ctx context.Context, query map[string]any) ([]retrieval.Candidate, error) {
	clause := "SELECT source, type, target, confidence, created_at FROM relations WHERE 1=1"
	var args []any
	if source, ok := query["source"].(string); ok {
		clause += " AND source = ?"
		args = append(args, source)
	}
	if relType, ok := query["relation"].(string); ok {
		clause += " AND type = ?"
		args = append(args, relType)
	}
	if target, ok := query["target"].(string); ok {
		clause += " AND target = ?"
		args = append(args, target)
	}

	relations, err := s.queryRelations(ctx, clause, args...)
	if err != nil {
		return nil, err
	}
	return relationCandidates(relations), nil
}

func (s *SQLite) queryPropertyCandidates(ctx context.Context, property string, value any) ([]retrieval.Candidate, error) {
	clause := "SELECT entity_id, name, value, confidence, updated_at FROM properties WHERE name = ?"
	args := []any{property}
	if value != nil {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode query value: %w", err)
		}
		clause += " AND value = ?"
		args = append(args, string(encoded))
	}
	return s.propertyCandidates(ctx, clause, args...)
}

// SearchText finds entities and relations whose stored text contains the
// query. An optional "type" filter of "entity" or "relation" restricts the
// search.
func (s *SQLite) SearchText(ctx context.Context, text string, filters map[string]any) ([]retrieval.Candidate, error) {
	kind, _ := filters["type"].(string)
	pattern := "%" + text + "%"

	var candidates []retrieval.Candidate
	if kind == "" || kind == "entity" {
		found, err := s.propertyCandidates(ctx, `
			SELECT entity_id, name, value, confidence, updated_at FROM properties
			WHERE entity_id LIKE ? OR name LIKE ? OR value LIKE ?
		`, pattern, pattern, pattern)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}
	if kind == "" || kind == "relation" {
		relations, err := s.queryRelations(ctx, `
			SELECT source, type, target, confidence, created_at FROM relations
			WHERE source LIKE ? OR type LIKE ? OR target LIKE ?
		`, pattern, pattern, pattern)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, relationCandidates(relations)...)
	}
	return candidates, nil
}

func (s *SQLite) propertyCandidates(ctx context.Context, query string, args ...any) ([]retrieval.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []retrieval.Candidate
	for rows.Next() {
		var entityID, name, encoded, updatedAt string
		var confidence float64
		if err := rows.Scan(&entityID, &name, &encoded, &confidence, &updatedAt); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			value = encoded
		}
		candidate := retrieval.Candidate{
			Content: map[string]any{
				"type": "property",
				"id":   entityID,
				name:   value,
			},
			Source:     "knowledge_store",
			Confidence: confidence,
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			candidate.Timestamp = t
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

func relationCandidates(relations []retrieval.Relation) []retrieval.Candidate {
	candidates := make([]retrieval.Candidate, 0, len(relations))
	for _, rel := range relations {
		candidates = append(candidates, retrieval.Candidate{
			Content: map[string]any{
				"type":     "relation",
				"source":   rel.Source,
				"relation": rel.Type,
				"target":   rel.Target,
			},
			Source:     "knowledge_store",
			Confidence: rel.Confidence,
			Timestamp:  rel.CreatedAt,
		})
	}
	return candidates
}
