package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ceterislabs/ceteris/internal/kb"
	"github.com/ceterislabs/ceteris/internal/snapshot"
	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/reason"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
	"github.com/ceterislabs/ceteris/pkg/types"
)

const testAPIKey = "test-api-key"

// stubProver proves exactly the statements in its set.
type stubProver struct {
	provable map[string]bool
}

func (p *stubProver) Prove(_ context.Context, statement string) (*defaults.Proof, error) {
	return &defaults.Proof{Success: p.provable[statement]}, nil
}

// stubRuleLoader records loaded rules and facts.
type stubRuleLoader struct {
	rules []string
	facts []string
}

func (s *stubRuleLoader) LoadRules(source string) error {
	s.rules = append(s.rules, source)
	return nil
}

func (s *stubRuleLoader) AddFact(fact string) error {
	s.facts = append(s.facts, fact)
	return nil
}

type testEnv struct {
	server   *httptest.Server
	contexts *ctxstore.Store
	reasoner *defaults.Reasoner
	prover   *stubProver
	rules    *stubRuleLoader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	contexts := ctxstore.NewStore()
	knowledge := kb.NewMemory()
	prover := &stubProver{provable: map[string]bool{}}
	reasoner := defaults.NewReasoner(prover, contexts)
	retriever := retrieval.New(knowledge, contexts, retrieval.Config{})
	engine := reason.NewEngine(prover, retriever, reasoner, contexts)
	rules := &stubRuleLoader{}

	h := NewHandler(HandlerConfig{
		Contexts:  contexts,
		Retriever: retriever,
		Reasoner:  reasoner,
		Engine:    engine,
		Knowledge: knowledge,
		Rules:     rules,
		Uploader:  &snapshot.NoopUploader{},
		APIKey:    testAPIKey,
		Version:   "test",
	})

	server := httptest.NewServer(NewRouter(h))
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		contexts: contexts,
		reasoner: reasoner,
		prover:   prover,
		rules:    rules,
	}
}

// do sends an authenticated JSON request and returns the response.
func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return v
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	health := decodeBody[types.HealthResponse](t, resp)
	if health.Status != "healthy" {
		t.Errorf("status = %q, want healthy", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("version = %q, want test", health.Version)
	}
}

func TestProtectedRoutes_RejectMissingToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/contexts", "application/json", bytes.NewBufferString("{}"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q, want application/problem+json", ct)
	}
}

func TestContextLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/contexts", types.CreateContextRequest{
		Name:      "conversation",
		Type:      string(ctxstore.TypeDialogue),
		Variables: map[string]any{"topic": "physics"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[ctxstore.Context](t, resp)
	if created.ID == "" {
		t.Fatal("created context has empty id")
	}

	resp = env.do(t, http.MethodGet, "/api/v1/contexts/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	fetched := decodeBody[ctxstore.Context](t, resp)
	if got := fetched.Variables["topic"]; got == nil || got.Value != "physics" {
		t.Errorf("topic variable = %v, want physics", got)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/contexts/"+created.ID+"/activate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/contexts/active", nil)
	active := decodeBody[ctxstore.Context](t, resp)
	if active.ID != created.ID {
		t.Errorf("active id = %q, want %q", active.ID, created.ID)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/contexts/"+created.ID+"/variables", types.SetVariableRequest{
		Name:  "subtopic",
		Value: "quantum",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set variable status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/contexts/"+created.ID+"/snapshot", nil)
	snap := decodeBody[types.SnapshotResponse](t, resp)
	if snap.Variables["topic"] != "physics" || snap.Variables["subtopic"] != "quantum" {
		t.Errorf("snapshot variables = %v, want topic and subtopic", snap.Variables)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/contexts/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/contexts/"+created.ID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestIDRoutes_RejectMalformedULID(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{
		"/api/v1/contexts/not-a-ulid",
		"/api/v1/defaults/not-a-ulid",
		"/api/v1/exceptions/not-a-ulid",
	}
	for _, path := range paths {
		resp := env.do(t, http.MethodDelete, path, nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("%s status = %d, want 422", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("%s content type = %q, want application/problem+json", path, ct)
		}
		resp.Body.Close()
	}
}

func TestCreateContext_FullRecordVariable(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/contexts", types.CreateContextRequest{
		Name: "records",
		Type: string(ctxstore.TypeSystem),
		Variables: map[string]any{
			"topic": map[string]any{
				"value":    "physics",
				"type":     "string",
				"metadata": map[string]any{"source": "user"},
			},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[ctxstore.Context](t, resp)

	resp = env.do(t, http.MethodGet, "/api/v1/contexts/"+created.ID, nil)
	fetched := decodeBody[ctxstore.Context](t, resp)
	topic := fetched.Variables["topic"]
	if topic == nil {
		t.Fatal("topic variable missing")
	}
	if topic.Value != "physics" || topic.Type != "string" {
		t.Errorf("topic = %v (%s), want physics (string)", topic.Value, topic.Type)
	}
	if topic.Metadata["source"] != "user" {
		t.Errorf("topic metadata = %v, want source=user", topic.Metadata)
	}
}

func TestCreateContext_ValidationProblem(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/contexts", types.CreateContextRequest{
		Name: "bad",
		Type: "NOT_A_TYPE",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q, want application/problem+json", ct)
	}
}

func TestDeriveContext_InheritsParentType(t *testing.T) {
	env := newTestEnv(t)

	parent, err := env.contexts.Create("session", ctxstore.TypeThematic, ctxstore.CreateOptions{})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/contexts/"+parent.ID+"/derive", types.DeriveRequest{
		Name: "subsession",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("derive status = %d, want 201", resp.StatusCode)
	}
	child := decodeBody[ctxstore.Context](t, resp)
	if child.ParentID != parent.ID {
		t.Errorf("parent id = %q, want %q", child.ParentID, parent.ID)
	}
	if child.Type != ctxstore.TypeThematic {
		t.Errorf("type = %q, want inherited %q", child.Type, ctxstore.TypeThematic)
	}
}

func TestRevert_RestoresPreviousActive(t *testing.T) {
	env := newTestEnv(t)

	first, _ := env.contexts.Create("first", ctxstore.TypeTask, ctxstore.CreateOptions{})
	second, _ := env.contexts.Create("second", ctxstore.TypeTask, ctxstore.CreateOptions{})
	if err := env.contexts.SetActive(first.ID); err != nil {
		t.Fatalf("activate first: %v", err)
	}
	if err := env.contexts.SetActive(second.ID); err != nil {
		t.Fatalf("activate second: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/contexts/revert", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revert status = %d, want 200", resp.StatusCode)
	}
	reverted := decodeBody[ctxstore.Context](t, resp)
	if reverted.ID != first.ID {
		t.Errorf("reverted id = %q, want %q", reverted.ID, first.ID)
	}
}

func TestRevert_EmptyHistoryConflict(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/contexts/revert", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	c, err := env.contexts.Create("persisted", ctxstore.TypeUser, ctxstore.CreateOptions{
		Variables: map[string]any{"name": "ada"},
	})
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/contexts/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d, want 200", resp.StatusCode)
	}
	var doc bytes.Buffer
	if _, err := doc.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read export: %v", err)
	}
	resp.Body.Close()

	env2 := newTestEnv(t)
	req, err := http.NewRequest(http.MethodPost, env2.server.URL+"/api/v1/contexts/import", &doc)
	if err != nil {
		t.Fatalf("build import request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("import request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("import status = %d, want 204", resp.StatusCode)
	}

	restored, err := env2.contexts.Get(c.ID)
	if err != nil {
		t.Fatalf("restored context missing: %v", err)
	}
	if got := restored.Variables["name"]; got == nil || got.Value != "ada" {
		t.Errorf("restored variable = %v, want ada", got)
	}
}

func TestImport_MalformedDocumentRejected(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.contexts.Create("keep", ctxstore.TypeSystem, ctxstore.CreateOptions{}); err != nil {
		t.Fatalf("create context: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/contexts/import", bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("import request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env.contexts.Len() != 1 {
		t.Errorf("store should be untouched after malformed import, len = %d", env.contexts.Len())
	}
}

func TestRetrieve_EntityReference(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/entities", types.EntityRequest{
		ID:         "tweety",
		Properties: map[string]any{"species": "canary"},
		Confidence: 0.9,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add entity status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/retrieve", types.RetrieveRequest{
		Query: "entity:tweety",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve status = %d, want 200", resp.StatusCode)
	}
	result := decodeBody[types.RetrieveResponse](t, resp)
	if result.Count != 1 {
		t.Fatalf("count = %d, want 1 (results: %+v)", result.Count, result.Results)
	}
}

func TestRetrieve_UnknownStrategyRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/retrieve", types.RetrieveRequest{
		Query:    "anything",
		Strategy: "psychic",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestDefaults_AddApplyRemove(t *testing.T) {
	env := newTestEnv(t)
	env.prover.provable["bird(tweety)"] = true

	resp := env.do(t, http.MethodPost, "/api/v1/defaults", types.AddDefaultRequest{
		Prerequisite: "bird(tweety)",
		Consequent:   "flies(tweety)",
		Confidence:   0.9,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add default status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[types.CreatedResponse](t, resp)
	if created.ID == "" {
		t.Fatal("created default has empty id")
	}

	resp = env.do(t, http.MethodPost, "/api/v1/defaults/apply", types.ApplyRequest{
		Query: "flies(tweety)",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply status = %d, want 200", resp.StatusCode)
	}
	decision := decodeBody[defaults.Decision](t, resp)
	if !decision.Success {
		t.Errorf("decision should succeed: %+v", decision)
	}
	if decision.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", decision.Confidence)
	}
	if decision.Method != defaults.MethodDefault {
		t.Errorf("method = %q, want %q", decision.Method, defaults.MethodDefault)
	}

	absent := "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	resp = env.do(t, http.MethodPost, "/api/v1/defaults/"+absent+"/exceptions", types.AddExceptionRequest{
		Condition:  "penguin(tweety)",
		Confidence: 0.95,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("exception on missing default status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodDelete, "/api/v1/defaults/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/defaults/"+created.ID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get removed default status = %d, want 404", resp.StatusCode)
	}
}

func TestDefaults_ExceptionDefeats(t *testing.T) {
	env := newTestEnv(t)
	env.prover.provable["penguin(tweety)"] = true

	id, err := env.reasoner.AddDefault(defaults.Default{
		Consequent: "flies(tweety)",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("add default: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/defaults/"+id+"/exceptions", types.AddExceptionRequest{
		Condition:  "penguin(tweety)",
		Confidence: 0.95,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add exception status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/defaults/apply", types.ApplyRequest{
		Query: "flies(tweety)",
	})
	decision := decodeBody[defaults.Decision](t, resp)
	if decision.Success {
		t.Errorf("defeated default should not conclude: %+v", decision)
	}
	if len(decision.ExceptionsApplied) != 1 {
		t.Errorf("exceptions applied = %v, want one", decision.ExceptionsApplied)
	}
}

func TestListDefaults_IncludesExceptions(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.reasoner.AddDefault(defaults.Default{
		Consequent: "flies(tweety)",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("add default: %v", err)
	}
	if _, err := env.reasoner.AddException(defaults.Exception{
		DefaultID:  id,
		Condition:  "penguin(tweety)",
		Confidence: 0.95,
	}); err != nil {
		t.Fatalf("add exception: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/defaults", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	listed := decodeBody[types.ListDefaultsResponse](t, resp)
	if len(listed.Defaults) != 1 {
		t.Fatalf("defaults listed = %d, want 1", len(listed.Defaults))
	}
	if len(listed.Defaults[0].Exceptions) != 1 {
		t.Errorf("exceptions listed = %d, want 1", len(listed.Defaults[0].Exceptions))
	}
}

func TestRules_LoadAndAddFact(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/rules", types.RulesRequest{
		Rules: "ancestor(X, Y) :- parent(X, Y).",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("load rules status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/facts", types.FactRequest{
		Fact: "parent(alice, bob).",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add fact status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	if len(env.rules.rules) != 1 || len(env.rules.facts) != 1 {
		t.Errorf("rule loader calls = %d rules, %d facts; want 1 and 1", len(env.rules.rules), len(env.rules.facts))
	}
}

func TestQuery_FallsThroughToDefaults(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.reasoner.AddDefault(defaults.Default{
		Consequent: "flies(tweety)",
		Confidence: 0.9,
	}); err != nil {
		t.Fatalf("add default: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/query", types.QueryRequest{
		Query: "flies(tweety)",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", resp.StatusCode)
	}
	answer := decodeBody[reason.Answer](t, resp)
	if !answer.Success {
		t.Fatalf("answer should succeed: %+v", answer)
	}
	if answer.Method != defaults.MethodDefault {
		t.Errorf("method = %q, want %q", answer.Method, defaults.MethodDefault)
	}
}

func TestQuery_ExactProofWins(t *testing.T) {
	env := newTestEnv(t)
	env.prover.provable["flies(tweety)"] = true

	resp := env.do(t, http.MethodPost, "/api/v1/query", types.QueryRequest{
		Query: "flies(tweety)",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", resp.StatusCode)
	}
	answer := decodeBody[reason.Answer](t, resp)
	if !answer.Success {
		t.Fatalf("answer should succeed: %+v", answer)
	}
	if answer.Method != defaults.MethodStandard {
		t.Errorf("method = %q, want %q", answer.Method, defaults.MethodStandard)
	}
	if answer.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", answer.Confidence)
	}
}

func TestSnapshotURL_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/contexts/snapshot/url", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
