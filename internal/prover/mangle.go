// Package prover adapts the Google Mangle Datalog engine to the exact
// prover collaborator contract. Rules and facts are evaluated eagerly into
// an in-memory fact store; proving a statement checks containment of the
// parsed atom, with variables matching any bound value. A leading "not (…)"
// is interpreted as negation as failure.
package prover

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"github.com/ceterislabs/ceteris/pkg/defaults"
)

// Compile-time interface check
var _ defaults.Prover = (*Mangle)(nil)

// Mangle wraps a Mangle program and its derived fact store.
type Mangle struct {
	mu      sync.Mutex
	store   factstore.FactStore
	units   []parse.SourceUnit
	program *analysis.ProgramInfo
}

// NewMangle creates an empty prover.
func NewMangle() *Mangle {
	return &Mangle{store: factstore.NewSimpleInMemoryStore()}
}

// LoadRules parses a Mangle source fragment (rules and facts), reanalyzes
// the accumulated program, and evaluates it into the fact store.
func (m *Mangle) LoadRules(source string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.units = append(m.units, unit)
	return m.evaluateLocked()
}

// LoadRulesFile loads a Mangle source file.
func (m *Mangle) LoadRulesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file %s: %w", path, err)
	}
	return m.LoadRules(string(data))
}

// AddFact asserts one ground fact, given in Mangle syntax, and re-derives
// the program's conclusions.
func (m *Mangle) AddFact(fact string) error {
	atom, err := parseAtom(fact)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.Add(atom)
	if m.program != nil {
		if _, err := mengine.EvalProgramWithStats(m.program, m.store); err != nil {
			return fmt.Errorf("re-evaluate program: %w", err)
		}
	}
	return nil
}

// evaluateLocked rebuilds the analyzed program from all loaded units and
// evaluates it against the store.
func (m *Mangle) evaluateLocked() error {
	var merged parse.SourceUnit
	for _, unit := range m.units {
		merged.Clauses = append(merged.Clauses, unit.Clauses...)
		merged.Decls = append(merged.Decls, unit.Decls...)
	}

	program, err := analysis.AnalyzeOneUnit(merged, nil)
	if err != nil {
		return fmt.Errorf("analyze program: %w", err)
	}
	m.program = program

	if _, err := mengine.EvalProgramWithStats(program, m.store); err != nil {
		return fmt.Errorf("evaluate program: %w", err)
	}
	return nil
}

// Prove checks a statement against the derived facts. Ground atoms are
// containment checks; atoms with variables succeed when any derived fact
// matches their bound arguments. Statements the Mangle grammar cannot parse
// are reported as collaborator failures.
func (m *Mangle) Prove(ctx context.Context, statement string) (*defaults.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned := strings.TrimSpace(statement)
	if inner, negated := stripNegation(cleaned); negated {
		proof, err := m.Prove(ctx, inner)
		if err != nil {
			return nil, err
		}
		if proof.Success {
			return &defaults.Proof{Success: false, Explanation: fmt.Sprintf("%s is derivable, so its negation fails", inner)}, nil
		}
		return &defaults.Proof{Success: true, Explanation: fmt.Sprintf("%s is not derivable", inner)}, nil
	}

	atom, err := parseAtom(cleaned)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if isGround(atom) {
		if m.store.Contains(atom) {
			return &defaults.Proof{Success: true, Explanation: fmt.Sprintf("%s holds", atom.String())}, nil
		}
		return &defaults.Proof{Success: false, Explanation: fmt.Sprintf("%s is not derivable", atom.String())}, nil
	}

	found := false
	err = m.store.GetFacts(atom, func(fact ast.Atom) error {
		if matches(atom, fact) {
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate facts: %w", err)
	}
	if found {
		return &defaults.Proof{Success: true, Explanation: fmt.Sprintf("a binding satisfies %s", atom.String())}, nil
	}
	return &defaults.Proof{Success: false, Explanation: fmt.Sprintf("no binding satisfies %s", atom.String())}, nil
}

// stripNegation recognizes "not (S)" and "not S" prefixes.
func stripNegation(statement string) (string, bool) {
	lower := strings.ToLower(statement)
	switch {
	case strings.HasPrefix(lower, "not ("), strings.HasPrefix(lower, "not("):
		rest := strings.TrimSpace(statement[len("not"):])
		if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
			rest = strings.TrimSpace(rest[1 : len(rest)-1])
		}
		return rest, true
	case strings.HasPrefix(lower, "not "):
		return strings.TrimSpace(statement[len("not "):]), true
	}
	return statement, false
}

func parseAtom(statement string) (ast.Atom, error) {
	cleaned := strings.TrimSpace(statement)
	cleaned = strings.TrimSuffix(cleaned, ".")
	atom, err := parse.Atom(cleaned)
	if err != nil {
		return ast.Atom{}, fmt.Errorf("parse statement %q: %w", statement, err)
	}
	return atom, nil
}

func isGround(atom ast.Atom) bool {
	for _, arg := range atom.Args {
		if _, ok := arg.(ast.Variable); ok {
			return false
		}
	}
	return true
}

// matches unifies a query atom against a ground fact: variables match
// anything, constants must agree.
func matches(query, fact ast.Atom) bool {
	if query.Predicate.Symbol != fact.Predicate.Symbol || len(query.Args) != len(fact.Args) {
		return false
	}
	for i, arg := range query.Args {
		if _, ok := arg.(ast.Variable); ok {
			continue
		}
		if arg.String() != fact.Args[i].String() {
			return false
		}
	}
	return true
}
