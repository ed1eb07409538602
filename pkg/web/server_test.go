package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kjall/promptfold/pkg/transform"
)

func newTestServer() *Server {
	return NewServer(transform.Options{Enabled: true, Prune: true}, nil)
}

func postTransform(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, TransformResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/transform", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp TransformResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestTransformEndpointBareGraph(t *testing.T) {
	s := newTestServer()
	rec, resp := postTransform(t, s, `{
		"a": {"class_type": "LoadA", "inputs": {}},
		"b": {"class_type": "LoadB", "inputs": {}},
		"sw": {"class_type": "LazySwitch", "inputs": {"switch": true, "on_true": ["a", 0], "on_false": ["b", 0]}},
		"sink": {"class_type": "Save", "inputs": {"in": ["sw", 0]}}
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("transform returned %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Stats.Aborted {
		t.Fatalf("aborted: %s", resp.Stats.AbortReason)
	}
	if resp.Stats.FoldableSwitches != 1 {
		t.Errorf("FoldableSwitches = %d, want 1", resp.Stats.FoldableSwitches)
	}
	if _, ok := resp.Prompt["sink"]; !ok {
		t.Error("response graph missing sink")
	}
}

func TestTransformEndpointEnvelopeWithTargets(t *testing.T) {
	s := newTestServer()
	rec, resp := postTransform(t, s, `{
		"prompt": {
			"a": {"class_type": "LoadA", "inputs": {}},
			"b": {"class_type": "LoadB", "inputs": {}},
			"sw": {"class_type": "LazySwitch", "inputs": {"switch": false, "on_true": ["a", 0], "on_false": ["b", 0]}},
			"sink": {"class_type": "Save", "inputs": {"in": ["sw", 0]}}
		},
		"partial_execution_targets": ["sink"]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("transform returned %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Stats.PrunedNodes != 2 {
		t.Errorf("PrunedNodes = %d, want sw and a pruned", resp.Stats.PrunedNodes)
	}
	if _, ok := resp.Prompt["a"]; ok {
		t.Error("bypassed branch should have been pruned")
	}
}

func TestTransformEndpointMalformedGraphFailsOpen(t *testing.T) {
	s := newTestServer()
	rec, resp := postTransform(t, s, `{
		"sink": {"class_type": "Save", "inputs": {"in": ["missing", 0]}}
	}`)

	// Graph-content problems are not HTTP errors: the graph comes back
	// unmodified with the abort flag set.
	if rec.Code != http.StatusOK {
		t.Fatalf("transform returned %d, want 200", rec.Code)
	}
	if !resp.Stats.Aborted {
		t.Error("dangling link should set the abort flag")
	}
	if _, ok := resp.Prompt["sink"]; !ok {
		t.Error("aborted response must carry the submitted graph")
	}
}

func TestTransformEndpointInvalidJSON(t *testing.T) {
	s := newTestServer()
	rec, _ := postTransform(t, s, `{not json`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON returned %d, want 400", rec.Code)
	}
}

func TestTransformEndpointMethodNotAllowed(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/transform", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/transform returned %d, want 405", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer()

	// Before any transform the endpoint reports an empty object.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("initial stats = %q, want {}", rec.Body.String())
	}

	postTransform(t, s, `{
		"a": {"class_type": "LoadA", "inputs": {}},
		"sink": {"class_type": "Save", "inputs": {"in": ["a", 0]}}
	}`)

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var stats transform.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalNodes != 2 {
		t.Errorf("TotalNodes = %d, want 2", stats.TotalNodes)
	}
}
