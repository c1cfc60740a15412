package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxloop/voxloop/internal/convo"
)

func newTestServer() http.Handler {
	e := New()
	orch := convo.New(convo.Deps{}, convo.Options{})
	orch.History().AddUserMessage("hello")
	orch.History().AddAssistantMessage("hi there")
	NewHandlers(orch).Register(e)
	return e
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_State(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap convo.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if snap.State != convo.StateIdle {
		t.Fatalf("state = %q", snap.State)
	}
	if snap.SessionID == "" {
		t.Fatal("missing session id")
	}
}

func TestServer_History(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []historyEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 2 || entries[0].Role != "user" || entries[1].Content != "hi there" {
		t.Fatalf("history = %+v", entries)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
