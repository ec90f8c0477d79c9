package defaults

import (
	"context"
	"errors"
	"testing"
)

// fakeProver proves exactly the statements in its set; setting fail makes
// every call return an error.
type fakeProver struct {
	provable map[string]bool
	fail     bool
}

func (p *fakeProver) Prove(_ context.Context, statement string) (*Proof, error) {
	if p.fail {
		return nil, errors.New("prover offline")
	}
	return &Proof{Success: p.provable[statement]}, nil
}

func newTestReasoner(provable ...string) (*Reasoner, *fakeProver) {
	p := &fakeProver{provable: map[string]bool{}}
	for _, s := range provable {
		p.provable[s] = true
	}
	return NewReasoner(p, nil), p
}

func TestAddDefault_Validation(t *testing.T) {
	r, _ := newTestReasoner()

	if _, err := r.AddDefault(Default{Confidence: 0.9}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("missing consequent: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := r.AddDefault(Default{Consequent: "flies(x)", Confidence: 1.5}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("confidence out of range: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := r.AddDefault(Default{Consequent: "flies(x)", Kind: "WISHFUL", Confidence: 0.9}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown kind: err = %v, want ErrInvalidArgument", err)
	}

	id, err := r.AddDefault(Default{Consequent: "flies(x)", Confidence: 0.9})
	if err != nil {
		t.Fatalf("valid default: %v", err)
	}
	d, err := r.GetDefault(id)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if d.Kind != KindNormal {
		t.Errorf("kind = %q, want empty kind to become %q", d.Kind, KindNormal)
	}
}

func TestApply_TweetyFliesByDefault(t *testing.T) {
	r, _ := newTestReasoner("bird(tweety)")

	if _, err := r.AddDefault(Default{
		Prerequisite: "bird(tweety)",
		Consequent:   "flies(tweety)",
		Confidence:   0.9,
	}); err != nil {
		t.Fatalf("add default: %v", err)
	}

	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !decision.Success {
		t.Fatalf("decision should succeed: %+v", decision)
	}
	if decision.Conclusion != "flies(tweety)" {
		t.Errorf("conclusion = %q, want flies(tweety)", decision.Conclusion)
	}
	if decision.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", decision.Confidence)
	}
	if decision.Method != MethodDefault {
		t.Errorf("method = %q, want %q", decision.Method, MethodDefault)
	}
}

func TestApply_PenguinExceptionDefeats(t *testing.T) {
	r, _ := newTestReasoner("bird(tweety)", "penguin(tweety)")

	id, err := r.AddDefault(Default{
		Prerequisite: "bird(tweety)",
		Consequent:   "flies(tweety)",
		Confidence:   0.9,
	})
	if err != nil {
		t.Fatalf("add default: %v", err)
	}
	exID, err := r.AddException(Exception{
		DefaultID:  id,
		Condition:  "penguin(tweety)",
		Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("add exception: %v", err)
	}

	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Success {
		t.Errorf("defeated default should not conclude: %+v", decision)
	}
	if len(decision.ExceptionsApplied) != 1 || decision.ExceptionsApplied[0] != exID {
		t.Errorf("exceptions applied = %v, want [%s]", decision.ExceptionsApplied, exID)
	}
}

func TestApply_ExactProofShortCircuits(t *testing.T) {
	r, _ := newTestReasoner("flies(tweety)")

	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Method != MethodStandard {
		t.Errorf("method = %q, want %q", decision.Method, MethodStandard)
	}
	if decision.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", decision.Confidence)
	}
}

func TestApply_PriorityOrdering(t *testing.T) {
	r, _ := newTestReasoner()

	if _, err := r.AddDefault(Default{
		Consequent: "is fast(cheetah)",
		Priority:   1,
		Confidence: 0.6,
	}); err != nil {
		t.Fatalf("add low priority: %v", err)
	}
	if _, err := r.AddDefault(Default{
		Consequent: "is slow(cheetah)",
		Priority:   10,
		Confidence: 0.7,
	}); err != nil {
		t.Fatalf("add high priority: %v", err)
	}

	decision, err := r.Apply(context.Background(), "is the cheetah slow", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Conclusion != "is slow(cheetah)" {
		t.Errorf("conclusion = %q, want the higher priority default's", decision.Conclusion)
	}
}

func TestApply_PartialAnswerCombination(t *testing.T) {
	r, _ := newTestReasoner()

	// Consequents share tokens with the query but it is not interrogative
	// and none matches exactly, so the survivors are combined.
	if _, err := r.AddDefault(Default{Consequent: "tweety sings", Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddDefault(Default{Consequent: "tweety eats seeds", Confidence: 0.5}); err != nil {
		t.Fatal(err)
	}

	decision, err := r.Apply(context.Background(), "tweety behavior", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Method != MethodCombination {
		t.Fatalf("method = %q, want %q", decision.Method, MethodCombination)
	}
	if decision.Conclusion != PartialAnswer {
		t.Errorf("conclusion = %q, want %q", decision.Conclusion, PartialAnswer)
	}
	// Best confidence damped by 0.8.
	want := 0.9 * 0.8
	if decision.Confidence != want {
		t.Errorf("confidence = %v, want %v", decision.Confidence, want)
	}
	if len(decision.DefaultsUsed) != 2 {
		t.Errorf("defaults used = %d, want 2", len(decision.DefaultsUsed))
	}
}

func TestApply_ConfidenceThreshold(t *testing.T) {
	r, _ := newTestReasoner()
	if _, err := r.AddDefault(Default{Consequent: "flies(tweety)", Confidence: 0.6}); err != nil {
		t.Fatal(err)
	}

	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{ConfidenceThreshold: 0.7})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Success {
		t.Error("conclusion below threshold should not succeed")
	}
	if decision.Confidence != 0.6 {
		t.Errorf("confidence still reported: got %v, want 0.6", decision.Confidence)
	}
}

func TestApply_EmptyQuery(t *testing.T) {
	r, _ := newTestReasoner()
	if _, err := r.Apply(context.Background(), "   ", ApplyOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty query: err = %v, want ErrInvalidArgument", err)
	}
}

func TestApply_NoApplicableDefaults(t *testing.T) {
	r, _ := newTestReasoner()
	if _, err := r.AddDefault(Default{Consequent: "swims(nemo)", Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}

	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Success {
		t.Error("irrelevant defaults should not apply")
	}
}

func TestPrerequisite_FailsClosedOnProverError(t *testing.T) {
	r, p := newTestReasoner("bird(tweety)")
	if _, err := r.AddDefault(Default{
		Prerequisite: "bird(tweety)",
		Consequent:   "flies(tweety)",
		Confidence:   0.9,
	}); err != nil {
		t.Fatal(err)
	}

	p.fail = true
	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if decision.Success {
		t.Error("unprovable prerequisite must block the default")
	}
}

func TestJustification_FailsOpenOnProverError(t *testing.T) {
	r, p := newTestReasoner()
	if _, err := r.AddDefault(Default{
		Justification: "can fly(tweety)",
		Consequent:    "flies(tweety)",
		Confidence:    0.9,
	}); err != nil {
		t.Fatal(err)
	}

	p.fail = true
	decision, err := r.Apply(context.Background(), "flies(tweety)", ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !decision.Success {
		t.Error("consistency check fails open; the default should still apply")
	}
}

func TestCheckConsistency(t *testing.T) {
	r, p := newTestReasoner()

	if !r.CheckConsistency(context.Background(), "flies(tweety)") {
		t.Error("unprovable negation means consistent")
	}

	p.provable["not (flies(tweety))"] = true
	if r.CheckConsistency(context.Background(), "flies(tweety)") {
		t.Error("provable negation means inconsistent")
	}
}

func TestRemoveDefault_CascadesExceptions(t *testing.T) {
	r, _ := newTestReasoner()
	id, err := r.AddDefault(Default{Consequent: "flies(x)", Confidence: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	exID, err := r.AddException(Exception{DefaultID: id, Condition: "penguin(x)", Confidence: 0.9})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.RemoveDefault(id); err != nil {
		t.Fatalf("remove default: %v", err)
	}
	if _, err := r.GetDefault(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("default should be gone: %v", err)
	}
	if _, err := r.GetException(exID); !errors.Is(err, ErrNotFound) {
		t.Errorf("owned exception should cascade: %v", err)
	}
}

func TestRemoveException(t *testing.T) {
	r, _ := newTestReasoner()
	id, _ := r.AddDefault(Default{Consequent: "flies(x)", Confidence: 0.9})
	exID, _ := r.AddException(Exception{DefaultID: id, Condition: "penguin(x)", Confidence: 0.9})

	if err := r.RemoveException(exID); err != nil {
		t.Fatalf("remove exception: %v", err)
	}
	if got := len(r.ExceptionsFor(id)); got != 0 {
		t.Errorf("exceptions left = %d, want 0", got)
	}
	if err := r.RemoveException(exID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double remove: err = %v, want ErrNotFound", err)
	}
}

func TestDefaults_OrderedByPriority(t *testing.T) {
	r, _ := newTestReasoner()
	low, _ := r.AddDefault(Default{Consequent: "a", Priority: 1, Confidence: 0.5})
	high, _ := r.AddDefault(Default{Consequent: "b", Priority: 10, Confidence: 0.5})

	list := r.Defaults()
	if len(list) != 2 {
		t.Fatalf("defaults = %d, want 2", len(list))
	}
	if list[0].ID != high || list[1].ID != low {
		t.Error("defaults must be ordered by priority descending")
	}
}

func TestDirectlyAnswers(t *testing.T) {
	tests := []struct {
		consequent string
		query      string
		want       bool
	}{
		{"flies(tweety)", "flies(tweety)", true},
		{"flies(tweety)", "FLIES(TWEETY)", true},
		{"birds fly south", "do birds fly", true},
		{"birds fly south", "birds migrate", false},
		{"tweety sings", "tweety behavior", false},
	}

	for _, tt := range tests {
		if got := directlyAnswers(tt.consequent, tt.query); got != tt.want {
			t.Errorf("directlyAnswers(%q, %q) = %v, want %v", tt.consequent, tt.query, got, tt.want)
		}
	}
}
