package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
)

type mockSTT struct{}

func (m *mockSTT) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	return "", nil
}
func (m *mockSTT) Name() string { return "mock-stt" }

type mockLLM struct{}

func (m *mockLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return "", nil
}
func (m *mockLLM) Name() string { return "mock-llm" }

type mockTTS struct{}

func (m *mockTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return nil, nil
}
func (m *mockTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return nil
}
func (m *mockTTS) Abort() error { return nil }
func (m *mockTTS) Name() string { return "mock-tts" }

func newTestServer(stream StreamProvider) *Server {
	orch := orchestrator.New(&mockSTT{}, &mockLLM{}, &mockTTS{}, orchestrator.DefaultConfig())
	return New("127.0.0.1:0", orch, stream, nil, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(func() *orchestrator.ManagedStream { return nil })
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleStateNoSession(t *testing.T) {
	s := newTestServer(func() *orchestrator.ManagedStream { return nil })
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()

	s.router().ServeHTTP(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["state"] != "NO_SESSION" {
		t.Errorf("state = %q, want NO_SESSION", body["state"])
	}
}

func TestHandleStateWithSession(t *testing.T) {
	orch := orchestrator.New(&mockSTT{}, &mockLLM{}, &mockTTS{}, orchestrator.DefaultConfig())
	session := orch.NewSessionWithDefaults("test-user")
	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	s := New("127.0.0.1:0", orch, func() *orchestrator.ManagedStream { return stream }, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["state"] == "" {
		t.Errorf("expected a non-empty state name")
	}
}

func TestHandleDiagnostics(t *testing.T) {
	s := newTestServer(func() *orchestrator.ManagedStream { return nil })
	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	rec := httptest.NewRecorder()

	s.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := body["providers"]; !ok {
		t.Errorf("expected providers key in diagnostics, got %+v", body)
	}
}

func TestHandleMemory(t *testing.T) {
	s := newTestServer(func() *orchestrator.ManagedStream { return nil })
	req := httptest.NewRequest(http.MethodGet, "/memory", nil)
	rec := httptest.NewRecorder()

	s.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := body["alloc_bytes"]; !ok {
		t.Errorf("expected alloc_bytes key in memory snapshot, got %+v", body)
	}
}

func TestHandleAudioWSNoSession(t *testing.T) {
	s := newTestServer(func() *orchestrator.ManagedStream { return nil })
	req := httptest.NewRequest(http.MethodGet, "/ws/audio", nil)
	rec := httptest.NewRecorder()

	s.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
