package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stibot/internal/classify"
	"stibot/internal/escalate"
	"stibot/internal/flow"
	"stibot/internal/ident"
	"stibot/internal/llm"
	"stibot/internal/safeio"
	"stibot/internal/stepgen"
	"stibot/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	fs, err := safeio.NewDataFS(t.TempDir())
	if err != nil {
		t.Fatalf("data fs: %v", err)
	}
	sessions, err := store.NewMemorySessionStore(16)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	conversations := store.NewFileStore(fs)
	fake := llm.NewFakeClient()
	engine := flow.NewEngine(
		sessions,
		conversations,
		ident.New(fs, ident.Config{}),
		&classify.Classifier{LLM: fake, Recorder: conversations},
		&stepgen.Generator{LLM: fake, CorrectIncoherence: true},
		escalate.NewPolicy(fs, conversations, "5491100000000"),
		flow.Config{},
	)
	return withCORS(newRouter(engine))
}

func TestGreetingEndpoint(t *testing.T) {
	h := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/greeting", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var turn flow.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.ConversationID == "" {
		t.Fatal("missing session id")
	}
	if turn.Stage != "ASK_CONSENT" {
		t.Fatalf("stage = %s", turn.Stage)
	}
	if turn.Reply == "" {
		t.Fatal("empty greeting reply")
	}
}

func TestChatRoundTrip(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/greeting", nil))
	var greet flow.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &greet); err != nil {
		t.Fatalf("decode greeting: %v", err)
	}

	body := `{"sessionId":"` + greet.ConversationID + `","buttonId":"BTN_ACCEPT"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var turn flow.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Stage != "ASK_LANGUAGE" {
		t.Fatalf("stage = %s", turn.Stage)
	}
}

func TestChatValidation(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"sessionId":"x"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty input: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"sessionId":"zzzzzz","text":"hola"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: status = %d", rec.Code)
	}
}
