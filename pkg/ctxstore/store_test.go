package ctxstore

import (
	"errors"
	"fmt"
	"testing"
)

func mustCreate(t *testing.T, s *Store, name string, typ Type, opts CreateOptions) *Context {
	t.Helper()
	c, err := s.Create(name, typ, opts)
	if err != nil {
		t.Fatalf("create %q: %v", name, err)
	}
	return c
}

func TestCreate_Validation(t *testing.T) {
	s := NewStore()

	if _, err := s.Create("", TypeTask, CreateOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty name: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := s.Create("c", "MOOD", CreateOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown type: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := s.Create("c", TypeTask, CreateOptions{ParentID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown parent: err = %v, want ErrNotFound", err)
	}
}

func TestCreate_InfersVariableTypes(t *testing.T) {
	s := NewStore()
	c := mustCreate(t, s, "typed", TypeSystem, CreateOptions{
		Variables: map[string]any{
			"name":    "ada",
			"count":   3,
			"ratio":   0.5,
			"enabled": true,
		},
	})

	want := map[string]string{
		"name":    "string",
		"count":   "number",
		"ratio":   "number",
		"enabled": "boolean",
	}
	for name, wantType := range want {
		v, ok := c.Variables[name]
		if !ok {
			t.Fatalf("variable %q missing", name)
		}
		if v.Type != wantType {
			t.Errorf("variable %q type = %q, want %q", name, v.Type, wantType)
		}
	}
}

func TestCreate_AcceptsFullRecordMappings(t *testing.T) {
	s := NewStore()
	c := mustCreate(t, s, "records", TypeSystem, CreateOptions{
		Variables: map[string]any{
			// Full records the way a decoded JSON body delivers them.
			"topic": map[string]any{
				"value":    "physics",
				"type":     "string",
				"metadata": map[string]any{"source": "user"},
			},
			"depth": map[string]any{"value": 3},
			// An ordinary mapping stays a mapping-valued variable.
			"prefs": map[string]any{"tone": "casual"},
		},
	})

	topic := c.Variables["topic"]
	if topic.Value != "physics" || topic.Type != "string" {
		t.Errorf("topic = %v (%s), want physics (string)", topic.Value, topic.Type)
	}
	if topic.Metadata["source"] != "user" {
		t.Errorf("topic metadata = %v, want source=user", topic.Metadata)
	}

	depth := c.Variables["depth"]
	if depth.Value != 3 || depth.Type != "number" {
		t.Errorf("depth = %v (%s), want 3 (number)", depth.Value, depth.Type)
	}

	prefs := c.Variables["prefs"]
	if prefs.Type != "mapping" {
		t.Errorf("prefs type = %q, want mapping", prefs.Type)
	}
	if m, ok := prefs.Value.(map[string]any); !ok || m["tone"] != "casual" {
		t.Errorf("prefs value = %v, want the mapping itself", prefs.Value)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	c := mustCreate(t, s, "original", TypeUser, CreateOptions{
		Variables: map[string]any{"name": "ada"},
	})

	got, err := s.Get(c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Variables["name"].Value = "mutated"
	got.Metadata["injected"] = true

	fresh, _ := s.Get(c.ID)
	if fresh.Variables["name"].Value != "ada" {
		t.Error("mutating a returned copy must not affect the store")
	}
	if _, ok := fresh.Metadata["injected"]; ok {
		t.Error("mutating returned metadata must not affect the store")
	}
}

func TestGetVariable_WalksParentChain(t *testing.T) {
	s := NewStore()
	root := mustCreate(t, s, "root", TypeSystem, CreateOptions{
		Variables: map[string]any{"lang": "en", "tone": "formal"},
	})
	child := mustCreate(t, s, "child", TypeDialogue, CreateOptions{
		ParentID:  root.ID,
		Variables: map[string]any{"tone": "casual"},
	})

	// Child's own value wins.
	v, err := s.GetVariable("tone", child.ID)
	if err != nil {
		t.Fatalf("get tone: %v", err)
	}
	if v != "casual" {
		t.Errorf("tone = %v, want casual (child overrides parent)", v)
	}

	// Inherited from the parent.
	v, err = s.GetVariable("lang", child.ID)
	if err != nil {
		t.Fatalf("get lang: %v", err)
	}
	if v != "en" {
		t.Errorf("lang = %v, want en (inherited)", v)
	}

	// Unknown anywhere in the chain.
	if _, err := s.GetVariable("missing", child.ID); !errors.Is(err, ErrVariableUnknown) {
		t.Errorf("missing variable: err = %v, want ErrVariableUnknown", err)
	}
}

func TestSetVariable_NeverTouchesAncestors(t *testing.T) {
	s := NewStore()
	root := mustCreate(t, s, "root", TypeSystem, CreateOptions{
		Variables: map[string]any{"lang": "en"},
	})
	child := mustCreate(t, s, "child", TypeDialogue, CreateOptions{ParentID: root.ID})

	if err := s.SetVariable(child.ID, "lang", "fr", "", nil); err != nil {
		t.Fatalf("set variable: %v", err)
	}

	v, _ := s.GetVariable("lang", child.ID)
	if v != "fr" {
		t.Errorf("child lang = %v, want fr", v)
	}
	v, _ = s.GetVariable("lang", root.ID)
	if v != "en" {
		t.Errorf("root lang = %v, want en (shadowed, not overwritten)", v)
	}
}

func TestVariableOps_NoActiveContext(t *testing.T) {
	s := NewStore()

	if _, err := s.GetVariable("x", ""); !errors.Is(err, ErrNoActiveContext) {
		t.Errorf("get: err = %v, want ErrNoActiveContext", err)
	}
	if err := s.SetVariable("", "x", 1, "", nil); !errors.Is(err, ErrNoActiveContext) {
		t.Errorf("set: err = %v, want ErrNoActiveContext", err)
	}
}

func TestVariableOps_DefaultToActiveContext(t *testing.T) {
	s := NewStore()
	c := mustCreate(t, s, "session", TypeDialogue, CreateOptions{})
	if err := s.SetActive(c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := s.SetVariable("", "topic", "physics", "", nil); err != nil {
		t.Fatalf("set on active: %v", err)
	}
	v, err := s.GetVariable("topic", "")
	if err != nil {
		t.Fatalf("get on active: %v", err)
	}
	if v != "physics" {
		t.Errorf("topic = %v, want physics", v)
	}
}

func TestRemoveVariable(t *testing.T) {
	s := NewStore()
	c := mustCreate(t, s, "c", TypeTask, CreateOptions{
		Variables: map[string]any{"x": 1},
	})

	if err := s.RemoveVariable(c.ID, "x"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveVariable(c.ID, "x"); !errors.Is(err, ErrVariableUnknown) {
		t.Errorf("double remove: err = %v, want ErrVariableUnknown", err)
	}
}

func TestSetActiveAndRevert_Symmetry(t *testing.T) {
	s := NewStore()
	a := mustCreate(t, s, "a", TypeTask, CreateOptions{})
	b := mustCreate(t, s, "b", TypeTask, CreateOptions{})
	c := mustCreate(t, s, "c", TypeTask, CreateOptions{})

	for _, id := range []string{a.ID, b.ID, c.ID} {
		if err := s.SetActive(id); err != nil {
			t.Fatalf("activate %s: %v", id, err)
		}
	}

	// Unwind: c -> b -> a.
	if err := s.Revert(); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if active, _ := s.Active(); active.ID != b.ID {
		t.Errorf("active = %s, want %s", active.ID, b.ID)
	}
	if err := s.Revert(); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if active, _ := s.Active(); active.ID != a.ID {
		t.Errorf("active = %s, want %s", active.ID, a.ID)
	}
	if err := s.Revert(); !errors.Is(err, ErrHistoryEmpty) {
		t.Errorf("revert past history: err = %v, want ErrHistoryEmpty", err)
	}
}

func TestSetActive_FirstActivationPushesNothing(t *testing.T) {
	s := NewStore()
	a := mustCreate(t, s, "a", TypeTask, CreateOptions{})

	if err := s.SetActive(a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := len(s.History()); got != 0 {
		t.Errorf("history after first activation = %d, want 0", got)
	}
}

func TestHistory_BoundedAtLimit(t *testing.T) {
	s := NewStore()
	ids := make([]string, 0, DefaultHistoryLimit+10)
	for i := 0; i < DefaultHistoryLimit+10; i++ {
		c := mustCreate(t, s, fmt.Sprintf("c%d", i), TypeTask, CreateOptions{})
		ids = append(ids, c.ID)
		if err := s.SetActive(c.ID); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}

	history := s.History()
	if len(history) != DefaultHistoryLimit {
		t.Fatalf("history length = %d, want %d", len(history), DefaultHistoryLimit)
	}
	// Oldest surviving entry: total activations minus one (the current
	// active never counts) minus limit.
	wantOldest := ids[len(ids)-1-DefaultHistoryLimit]
	if history[0] != wantOldest {
		t.Errorf("oldest history entry = %s, want %s", history[0], wantOldest)
	}
}

func TestDelete_ClearsActiveAndHistory(t *testing.T) {
	s := NewStore()
	a := mustCreate(t, s, "a", TypeTask, CreateOptions{})
	b := mustCreate(t, s, "b", TypeTask, CreateOptions{})
	s.SetActive(a.ID)
	s.SetActive(b.ID)
	s.SetActive(a.ID) // history: [a, b]

	if err := s.Delete(b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, id := range s.History() {
		if id == b.ID {
			t.Error("deleted context must be purged from history")
		}
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("delete active: %v", err)
	}
	if _, ok := s.Active(); ok {
		t.Error("deleting the active context must clear the active pointer")
	}
}

func TestMerge_OverrideSemantics(t *testing.T) {
	s := NewStore()
	src := mustCreate(t, s, "src", TypeTask, CreateOptions{
		Variables: map[string]any{"shared": "from-src", "only": "src"},
	})
	dst := mustCreate(t, s, "dst", TypeTask, CreateOptions{
		Variables: map[string]any{"shared": "from-dst"},
	})

	if err := s.Merge(src.ID, dst.ID, false); err != nil {
		t.Fatalf("merge: %v", err)
	}
	v, _ := s.GetVariable("shared", dst.ID)
	if v != "from-dst" {
		t.Errorf("without override, target keeps its value: got %v", v)
	}
	v, _ = s.GetVariable("only", dst.ID)
	if v != "src" {
		t.Errorf("non-colliding variable copied: got %v", v)
	}

	if err := s.Merge(src.ID, dst.ID, true); err != nil {
		t.Fatalf("merge override: %v", err)
	}
	v, _ = s.GetVariable("shared", dst.ID)
	if v != "from-src" {
		t.Errorf("with override, source wins: got %v", v)
	}
}

func TestDerive(t *testing.T) {
	s := NewStore()
	parent := mustCreate(t, s, "parent", TypeThematic, CreateOptions{
		Variables: map[string]any{"topic": "physics"},
	})

	child, err := s.Derive(parent.ID, "child", "", nil, true)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if child.Type != TypeThematic {
		t.Errorf("empty type inherits parent's: got %q", child.Type)
	}
	if child.ParentID != parent.ID {
		t.Errorf("parent id = %q, want %q", child.ParentID, parent.ID)
	}

	// Inherited variables are copies; mutating the child leaves the parent.
	if err := s.SetVariable(child.ID, "topic", "chemistry", "", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, _ := s.GetVariable("topic", parent.ID)
	if v != "physics" {
		t.Errorf("parent topic = %v, want physics", v)
	}

	// Without inheritance the child starts empty.
	bare, err := s.Derive(parent.ID, "bare", TypeTask, nil, false)
	if err != nil {
		t.Fatalf("derive bare: %v", err)
	}
	if len(bare.Variables) != 0 {
		t.Errorf("bare child variables = %d, want 0", len(bare.Variables))
	}
}

func TestHierarchyAndSnapshot(t *testing.T) {
	s := NewStore()
	root := mustCreate(t, s, "root", TypeSystem, CreateOptions{
		Variables: map[string]any{"a": 1, "b": 1},
	})
	mid := mustCreate(t, s, "mid", TypeThematic, CreateOptions{
		ParentID:  root.ID,
		Variables: map[string]any{"b": 2, "c": 2},
	})
	leaf := mustCreate(t, s, "leaf", TypeDialogue, CreateOptions{
		ParentID:  mid.ID,
		Variables: map[string]any{"c": 3},
	})

	chain := s.Hierarchy(leaf.ID)
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	if chain[0].ID != leaf.ID || chain[2].ID != root.ID {
		t.Error("chain must run child first up to the root")
	}

	flat := s.Snapshot(leaf.ID)
	if flat["a"] != 1 || flat["b"] != 2 || flat["c"] != 3 {
		t.Errorf("snapshot = %v, want most specific values", flat)
	}
}

func TestList_OrderedByCreation(t *testing.T) {
	s := NewStore()
	first := mustCreate(t, s, "first", TypeTask, CreateOptions{})
	second := mustCreate(t, s, "second", TypeTask, CreateOptions{})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("list order = [%s, %s], want creation order", list[0].Name, list[1].Name)
	}
}
