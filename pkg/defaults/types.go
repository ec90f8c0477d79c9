// Package defaults implements priority-ordered default-logic inference with
// exception-based defeat. A default concludes its consequent when its
// prerequisite is provable and its justification is consistent, unless one
// of its exceptions holds. The reasoner leans on an exact prover
// collaborator for all sub-proofs and is explicitly heuristic about which
// defaults are relevant to a query.
package defaults

import (
	"context"
	"time"
)

// Kind classifies a default rule.
type Kind string

const (
	KindNormal      Kind = "NORMAL"
	KindSupernormal Kind = "SUPERNORMAL"
	KindConditional Kind = "CONDITIONAL"
	KindStatistical Kind = "STATISTICAL"
	KindDefeasible  Kind = "DEFEASIBLE"
)

// Valid reports whether k is a known default kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNormal, KindSupernormal, KindConditional, KindStatistical, KindDefeasible:
		return true
	}
	return false
}

// Default is a non-monotonic rule: if the prerequisite holds and the
// justification is consistent, conclude the consequent. Empty prerequisite
// means always satisfied; empty justification means always consistent.
// Higher priority wins among competing defaults.
type Default struct {
	ID            string         `json:"id"`
	Prerequisite  string         `json:"prerequisite,omitempty"`
	Justification string         `json:"justification,omitempty"`
	Consequent    string         `json:"consequent"`
	Kind          Kind           `json:"kind"`
	Priority      int            `json:"priority"`
	Confidence    float64        `json:"confidence"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Exception defeats a specific default when its condition is provable.
// An empty condition always applies.
type Exception struct {
	ID         string         `json:"id"`
	DefaultID  string         `json:"default_id"`
	Condition  string         `json:"condition,omitempty"`
	Priority   int            `json:"priority"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Proof is the outcome of an exact sub-proof.
type Proof struct {
	Success     bool   `json:"success"`
	Explanation string `json:"explanation,omitempty"`
}

// Prover is the exact-inference collaborator contract.
type Prover interface {
	Prove(ctx context.Context, statement string) (*Proof, error)
}

// Decision is the record returned by Apply.
type Decision struct {
	Success           bool     `json:"success"`
	Conclusion        string   `json:"conclusion,omitempty"`
	Confidence        float64  `json:"confidence"`
	Explanation       string   `json:"explanation"`
	Method            string   `json:"method"`
	DefaultsUsed      []string `json:"defaults_used"`
	ExceptionsApplied []string `json:"exceptions_applied"`
}

// Inference method tags reported in Decision.Method.
const (
	MethodStandard    = "standard_inference"
	MethodDefault     = "default_inference"
	MethodCombination = "default_combination"
)

// PartialAnswer is the conclusion marker used when no undefeated default
// directly answers the query and their consequents are combined instead.
const PartialAnswer = "partial_answer"

// ApplyOptions carries the optional arguments to Apply.
type ApplyOptions struct {
	// ContextID scopes context-bound defaults; empty selects the active
	// context when a context store is attached.
	ContextID string

	// ConfidenceThreshold is the minimum combined confidence for success.
	ConfidenceThreshold float64
}
