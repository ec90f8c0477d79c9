package defaults

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound        = errors.New("default rule not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Reasoner owns a set of defaults and their exceptions. All operations are
// safe for concurrent use.
type Reasoner struct {
	prover   Prover
	contexts *ctxstore.Store

	mu         sync.RWMutex
	defaults   map[string]*Default
	exceptions map[string]*Exception
	byDefault  map[string][]string
}

// NewReasoner creates a reasoner over the given prover. The context store is
// optional; when nil, context-scoped defaults apply unconditionally.
func NewReasoner(prover Prover, contexts *ctxstore.Store) *Reasoner {
	return &Reasoner{
		prover:     prover,
		contexts:   contexts,
		defaults:   make(map[string]*Default),
		exceptions: make(map[string]*Exception),
		byDefault:  make(map[string][]string),
	}
}

// AddDefault registers a default rule, generating an id when absent.
func (r *Reasoner) AddDefault(d Default) (string, error) {
	if d.Consequent == "" {
		return "", fmt.Errorf("%w: consequent is required", ErrInvalidArgument)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return "", fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidArgument, d.Confidence)
	}
	if d.Kind == "" {
		d.Kind = KindNormal
	}
	if !d.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown default kind %q", ErrInvalidArgument, d.Kind)
	}
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	d.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[d.ID] = &d
	if _, ok := r.byDefault[d.ID]; !ok {
		r.byDefault[d.ID] = nil
	}
	return d.ID, nil
}

// AddException registers an exception against a default. The default does
// not have to exist yet; the ownership list is created eagerly so a default
// registered later picks up its pending exceptions.
func (r *Reasoner) AddException(e Exception) (string, error) {
	if e.DefaultID == "" {
		return "", fmt.Errorf("%w: default id is required", ErrInvalidArgument)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return "", fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidArgument, e.Confidence)
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	e.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptions[e.ID] = &e
	r.byDefault[e.DefaultID] = append(r.byDefault[e.DefaultID], e.ID)
	return e.ID, nil
}

// RemoveDefault deletes a default and cascades to its owned exceptions.
func (r *Reasoner) RemoveDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defaults[id]; !ok {
		return fmt.Errorf("default %q: %w", id, ErrNotFound)
	}
	delete(r.defaults, id)
	for _, exceptionID := range r.byDefault[id] {
		delete(r.exceptions, exceptionID)
	}
	delete(r.byDefault, id)
	return nil
}

// RemoveException deletes a single exception.
func (r *Reasoner) RemoveException(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.exceptions[id]
	if !ok {
		return fmt.Errorf("exception %q: %w", id, ErrNotFound)
	}
	delete(r.exceptions, id)

	owned := r.byDefault[e.DefaultID]
	kept := owned[:0]
	for _, exceptionID := range owned {
		if exceptionID != id {
			kept = append(kept, exceptionID)
		}
	}
	r.byDefault[e.DefaultID] = kept
	return nil
}

// GetDefault returns a copy of the default with the given id.
func (r *Reasoner) GetDefault(id string) (*Default, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defaults[id]
	if !ok {
		return nil, fmt.Errorf("default %q: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// Defaults returns copies of all registered defaults, ordered by priority
// descending then creation time ascending.
func (r *Reasoner) Defaults() []*Default {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Default, 0, len(r.defaults))
	for _, d := range r.defaults {
		cp := *d
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetException returns a copy of the exception with the given id.
func (r *Reasoner) GetException(id string) (*Exception, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.exceptions[id]
	if !ok {
		return nil, fmt.Errorf("exception %q: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// ExceptionsFor returns copies of a default's exceptions in registration
// order.
func (r *Reasoner) ExceptionsFor(defaultID string) []*Exception {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.byDefault[defaultID]
	out := make([]*Exception, 0, len(owned))
	for _, exceptionID := range owned {
		if e, ok := r.exceptions[exceptionID]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Apply answers a query by defeasible inference. It first attempts an exact
// proof, then gathers applicable defaults (relevant consequent, provable
// prerequisite, consistent justification), defeats those with a provable
// exception, and concludes from the survivors by priority.
func (r *Reasoner) Apply(ctx context.Context, query string, opts ApplyOptions) (*Decision, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}

	// Standard stage: exact proof wins outright. A prover failure here is
	// treated as "not proved" and inference continues.
	if proof, err := r.prover.Prove(ctx, query); err == nil && proof != nil && proof.Success {
		explanation := proof.Explanation
		if explanation == "" {
			explanation = "proved by standard inference"
		}
		return &Decision{
			Success:     true,
			Conclusion:  query,
			Confidence:  1.0,
			Explanation: explanation,
			Method:      MethodStandard,
		}, nil
	}

	applicable := r.applicableDefaults(ctx, query, opts.ContextID)
	if len(applicable) == 0 {
		return &Decision{
			Success:     false,
			Confidence:  0,
			Explanation: "no applicable defaults for query",
			Method:      MethodDefault,
		}, nil
	}

	// Defeat stage.
	var undefeated []*Default
	var applied []string
	for _, d := range applicable {
		defeated := false
		for _, e := range r.ExceptionsFor(d.ID) {
			if r.conditionHolds(ctx, e.Condition) {
				applied = append(applied, e.ID)
				defeated = true
			}
		}
		if !defeated {
			undefeated = append(undefeated, d)
		}
	}
	if len(undefeated) == 0 {
		return &Decision{
			Success:           false,
			Confidence:        0,
			Explanation:       "all applicable defaults were defeated by exceptions",
			Method:            MethodDefault,
			ExceptionsApplied: applied,
		}, nil
	}

	// Conclusion stage: prefer defaults that directly answer the query;
	// applicable (and therefore undefeated) defaults are already ordered by
	// descending priority.
	for _, d := range undefeated {
		if !directlyAnswers(d.Consequent, query) {
			continue
		}
		return &Decision{
			Success:           d.Confidence >= opts.ConfidenceThreshold,
			Conclusion:        d.Consequent,
			Confidence:        d.Confidence,
			Explanation:       fmt.Sprintf("concluded %q by default %s (priority %d)", d.Consequent, d.ID, d.Priority),
			Method:            MethodDefault,
			DefaultsUsed:      []string{d.ID},
			ExceptionsApplied: applied,
		}, nil
	}

	// No direct answer: combine every undefeated default into a partial
	// answer with damped confidence.
	var confidence float64
	used := make([]string, 0, len(undefeated))
	for _, d := range undefeated {
		if damped := d.Confidence * 0.8; damped > confidence {
			confidence = damped
		}
		used = append(used, d.ID)
	}
	return &Decision{
		Success:           confidence >= opts.ConfidenceThreshold,
		Conclusion:        PartialAnswer,
		Confidence:        confidence,
		Explanation:       fmt.Sprintf("combined %d undefeated defaults into a partial answer", len(undefeated)),
		Method:            MethodCombination,
		DefaultsUsed:      used,
		ExceptionsApplied: applied,
	}, nil
}

// CheckConsistency reports whether a statement is consistent with the
// knowledge base: the prover must fail to prove its negation. A prover
// failure assumes consistency.
func (r *Reasoner) CheckConsistency(ctx context.Context, statement string) bool {
	proof, err := r.prover.Prove(ctx, "not ("+statement+")")
	if err != nil || proof == nil {
		return true
	}
	return !proof.Success
}

// applicableDefaults filters and priority-orders the defaults applicable to
// a query.
func (r *Reasoner) applicableDefaults(ctx context.Context, query, contextID string) []*Default {
	r.mu.RLock()
	all := make([]*Default, 0, len(r.defaults))
	for _, d := range r.defaults {
		cp := *d
		all = append(all, &cp)
	}
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	var applicable []*Default
	for _, d := range all {
		if !relevantToQuery(d.Consequent, query) {
			continue
		}
		if !r.inScope(d, contextID) {
			continue
		}
		if !r.prerequisiteHolds(ctx, d.Prerequisite) {
			continue
		}
		if !r.justificationConsistent(ctx, d.Justification) {
			continue
		}
		applicable = append(applicable, d)
	}
	return applicable
}

// inScope checks context-scoped applicability: a default whose metadata
// carries a "context" id only applies when that id is on the query
// context's hierarchy.
func (r *Reasoner) inScope(d *Default, contextID string) bool {
	if r.contexts == nil {
		return true
	}
	required, ok := d.Metadata["context"].(string)
	if !ok || required == "" {
		return true
	}
	for _, c := range r.contexts.Hierarchy(contextID) {
		if c.ID == required {
			return true
		}
	}
	return false
}

// prerequisiteHolds treats empty and "true" prerequisites as satisfied and
// otherwise requires an exact proof. Prover failures count as unprovable.
func (r *Reasoner) prerequisiteHolds(ctx context.Context, prerequisite string) bool {
	if trivial(prerequisite) {
		return true
	}
	proof, err := r.prover.Prove(ctx, prerequisite)
	if err != nil || proof == nil {
		return false
	}
	return proof.Success
}

// justificationConsistent treats empty and "true" justifications as
// consistent and otherwise defers to CheckConsistency (which fails open).
func (r *Reasoner) justificationConsistent(ctx context.Context, justification string) bool {
	if trivial(justification) {
		return true
	}
	return r.CheckConsistency(ctx, justification)
}

// conditionHolds evaluates an exception condition: empty and "true" always
// hold, anything else must be proved. Prover failures count as unprovable.
func (r *Reasoner) conditionHolds(ctx context.Context, condition string) bool {
	if trivial(condition) {
		return true
	}
	proof, err := r.prover.Prove(ctx, condition)
	if err != nil || proof == nil {
		return false
	}
	return proof.Success
}

func trivial(statement string) bool {
	s := strings.TrimSpace(strings.ToLower(statement))
	return s == "" || s == "true"
}

// relevantToQuery is the cheap relevance heuristic gating applicability:
// case-insensitive equality, substring containment either direction, or a
// non-empty shared-token overlap.
func relevantToQuery(consequent, query string) bool {
	c := strings.ToLower(strings.TrimSpace(consequent))
	q := strings.ToLower(strings.TrimSpace(query))
	if c == "" || q == "" {
		return false
	}
	if c == q || strings.Contains(c, q) || strings.Contains(q, c) {
		return true
	}
	queryTokens := make(map[string]bool)
	for _, token := range strings.Fields(q) {
		queryTokens[token] = true
	}
	for _, token := range strings.Fields(c) {
		if queryTokens[token] {
			return true
		}
	}
	return false
}

// interrogatives are the question openers accepted by the direct-answer
// heuristic. The match is deliberately coarse.
var interrogatives = map[string]bool{
	"what": true, "who": true, "where": true, "when": true,
	"why": true, "how": true, "which": true, "whose": true,
	"is": true, "are": true, "can": true, "do": true, "does": true,
}

// directlyAnswers reports whether a consequent directly answers the query:
// exact match, or the query opens with an interrogative word.
func directlyAnswers(consequent, query string) bool {
	if strings.EqualFold(strings.TrimSpace(consequent), strings.TrimSpace(query)) {
		return true
	}
	fields := strings.Fields(strings.ToLower(query))
	return len(fields) > 0 && interrogatives[fields[0]]
}
