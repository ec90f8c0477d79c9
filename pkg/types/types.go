// Package types holds the wire contract shared by the HTTP API and client.
package types

import (
	"encoding/json"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

// --- Context management ---

// CreateContextRequest creates a new context, optionally under a parent.
type CreateContextRequest struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	ParentID  string         `json:"parent_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// UpdateContextRequest merges metadata and variables into a context.
type UpdateContextRequest struct {
	Metadata  map[string]any `json:"metadata,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// SetVariableRequest sets a single variable on a context.
type SetVariableRequest struct {
	Name     string         `json:"name"`
	Value    any            `json:"value"`
	Type     string         `json:"type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MergeRequest merges the source context's variables into the target.
type MergeRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Override bool   `json:"override"`
}

// DeriveRequest creates a child context under an existing parent.
type DeriveRequest struct {
	Name             string         `json:"name"`
	Type             string         `json:"type,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	InheritVariables bool           `json:"inherit_variables"`
}

// ListContextsResponse lists every context, ordered by creation time.
type ListContextsResponse struct {
	Contexts []*ctxstore.Context `json:"contexts"`
	Count    int                 `json:"count"`
}

// MarshalJSON ensures a nil context list marshals as [] not null.
func (l ListContextsResponse) MarshalJSON() ([]byte, error) {
	if l.Contexts == nil {
		l.Contexts = []*ctxstore.Context{}
	}
	type Alias ListContextsResponse
	return json.Marshal(Alias(l))
}

// HistoryResponse lists the activation history, oldest first.
type HistoryResponse struct {
	History []string `json:"history"`
}

// MarshalJSON ensures a nil history marshals as [] not null.
func (h HistoryResponse) MarshalJSON() ([]byte, error) {
	if h.History == nil {
		h.History = []string{}
	}
	type Alias HistoryResponse
	return json.Marshal(Alias(h))
}

// SnapshotResponse is the flattened view of a context and its ancestors.
type SnapshotResponse struct {
	ContextID string         `json:"context_id"`
	Variables map[string]any `json:"variables"`
}

// MarshalJSON ensures nil variables marshal as {} not null.
func (s SnapshotResponse) MarshalJSON() ([]byte, error) {
	if s.Variables == nil {
		s.Variables = map[string]any{}
	}
	type Alias SnapshotResponse
	return json.Marshal(Alias(s))
}

// --- Retrieval ---

// RetrieveRequest runs a contextualized retrieval. Query is either a free
// text string (including entity:/relation: references) or a structured map.
type RetrieveRequest struct {
	Query            any            `json:"query"`
	ContextID        string         `json:"context_id,omitempty"`
	Strategy         string         `json:"strategy,omitempty"`
	MaxResults       int            `json:"max_results,omitempty"`
	MinConfidence    float64        `json:"min_confidence,omitempty"`
	MinRelevance     float64        `json:"min_relevance,omitempty"`
	Filters          map[string]any `json:"filters,omitempty"`
	Sensitivity      *float64       `json:"sensitivity,omitempty"`
	ResolveAmbiguity bool           `json:"resolve_ambiguity,omitempty"`
}

// RetrieveResponse carries the ranked results.
type RetrieveResponse struct {
	Results []retrieval.Result `json:"results"`
	Count   int                `json:"count"`
}

// MarshalJSON ensures nil results marshal as [] not null.
func (r RetrieveResponse) MarshalJSON() ([]byte, error) {
	if r.Results == nil {
		r.Results = []retrieval.Result{}
	}
	type Alias RetrieveResponse
	return json.Marshal(Alias(r))
}

// --- Knowledge base ---

// EntityRequest registers an entity and optional properties.
type EntityRequest struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// RelationRequest registers a relation between two entities.
type RelationRequest struct {
	Source     string  `json:"source"`
	Type       string  `json:"type"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence,omitempty"`
}

// FactRequest adds a ground fact to the prover.
type FactRequest struct {
	Fact string `json:"fact"`
}

// RulesRequest loads a block of rules into the prover.
type RulesRequest struct {
	Rules string `json:"rules"`
}

// --- Default reasoning ---

// AddDefaultRequest registers a default rule.
type AddDefaultRequest struct {
	Prerequisite  string         `json:"prerequisite,omitempty"`
	Justification string         `json:"justification,omitempty"`
	Consequent    string         `json:"consequent"`
	Kind          string         `json:"kind,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	Confidence    float64        `json:"confidence"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AddExceptionRequest registers an exception to a default. The default id
// comes from the URL path.
type AddExceptionRequest struct {
	Condition  string         `json:"condition"`
	Priority   int            `json:"priority,omitempty"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CreatedResponse returns the id of a newly created resource.
type CreatedResponse struct {
	ID string `json:"id"`
}

// DefaultWithExceptions pairs a default with its registered exceptions.
type DefaultWithExceptions struct {
	defaults.Default
	Exceptions []*defaults.Exception `json:"exceptions"`
}

// MarshalJSON ensures nil exceptions marshal as [] not null.
func (d DefaultWithExceptions) MarshalJSON() ([]byte, error) {
	if d.Exceptions == nil {
		d.Exceptions = []*defaults.Exception{}
	}
	type Alias DefaultWithExceptions
	return json.Marshal(Alias(d))
}

// ListDefaultsResponse lists defaults ordered by priority descending.
type ListDefaultsResponse struct {
	Defaults []DefaultWithExceptions `json:"defaults"`
}

// MarshalJSON ensures a nil list marshals as [] not null.
func (l ListDefaultsResponse) MarshalJSON() ([]byte, error) {
	if l.Defaults == nil {
		l.Defaults = []DefaultWithExceptions{}
	}
	type Alias ListDefaultsResponse
	return json.Marshal(Alias(l))
}

// ApplyRequest runs default reasoning over a query.
type ApplyRequest struct {
	Query               string   `json:"query"`
	ContextID           string   `json:"context_id,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// --- Reasoning pipeline ---

// QueryRequest runs the full answer pipeline.
type QueryRequest struct {
	Query               string   `json:"query"`
	ContextID           string   `json:"context_id,omitempty"`
	MaxResults          int      `json:"max_results,omitempty"`
	MinConfidence       float64  `json:"min_confidence,omitempty"`
	MinRelevance        float64  `json:"min_relevance,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// --- Service ---

// HealthResponse reports service health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	ContextCount    int    `json:"context_count"`
	ActiveContextID string `json:"active_context_id,omitempty"`
	DefaultCount    int    `json:"default_count"`
	EmbeddingModel  string `json:"embedding_model,omitempty"`
}

// SnapshotURLResponse carries a pre-signed context document download URL.
type SnapshotURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
