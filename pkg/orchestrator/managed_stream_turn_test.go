package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

// MockStreamingLLMProvider additionally implements StreamingLLMProvider, so
// ManagedStream picks the Turn Processor pipeline instead of the one-shot
// Complete/Synthesize fallback.
type MockStreamingLLMProvider struct {
	MockLLMProvider
	script []LLMStreamEvent
}

func (m *MockStreamingLLMProvider) Stream(ctx context.Context, system PromptBlocks, tools []ToolDefinition, messages []Message, onEvent func(LLMStreamEvent) error) error {
	for _, ev := range m.script {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func TestManagedStream_UsesTurnProcessorWhenLLMStreams(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "hello"}
	llm := &MockStreamingLLMProvider{script: []LLMStreamEvent{
		{Type: LLMEventTextDelta, TextDelta: "Hi there."},
		{Type: LLMEventStop},
	}}
	tts := &MockTTSProvider{synthesizeResult: []byte{1, 2, 3}}

	orch := New(stt, llm, tts, DefaultConfig())
	session := NewConversationSession("test")
	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	if stream.turnProc == nil {
		t.Fatalf("expected ManagedStream to pick up the Turn Processor path for a streaming LLM")
	}

	stream.runLLMAndTTS(context.Background(), "hello")

	var gotResponse, gotAudio bool
	deadline := time.After(2 * time.Second)
	for !gotResponse || !gotAudio {
		select {
		case ev := <-stream.Events():
			switch ev.Type {
			case BotResponse:
				if ev.Data.(string) != "Hi there." {
					t.Fatalf("unexpected assistant text: %v", ev.Data)
				}
				gotResponse = true
			case AudioChunk:
				gotAudio = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for BotResponse/AudioChunk events (response=%v audio=%v)", gotResponse, gotAudio)
		}
	}
}

func TestManagedStream_FallsBackWithoutStreamingLLM(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "hello"}
	llm := &MockLLMProvider{completeResult: "world"}
	tts := &MockTTSProvider{synthesizeResult: []byte{1, 2, 3}}

	orch := New(stt, llm, tts, DefaultConfig())
	session := NewConversationSession("test")
	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	if stream.turnProc != nil {
		t.Fatalf("expected no Turn Processor for a non-streaming mock LLM")
	}
}

func TestManagedStream_TurnErrorEmitsErrorEvent(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "hello"}
	llmErrScript := &failingStreamLLM{}
	tts := &MockTTSProvider{synthesizeResult: []byte{1, 2, 3}}

	orch := New(stt, llmErrScript, tts, DefaultConfig())
	session := NewConversationSession("test")
	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	stream.runLLMAndTTS(context.Background(), "hello")

	select {
	case ev := <-stream.Events():
		for ev.Type == BotThinking || ev.Type == BotSpeaking {
			select {
			case ev = <-stream.Events():
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for ErrorEvent")
			}
		}
		if ev.Type != ErrorEvent {
			t.Fatalf("expected ErrorEvent, got %v", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ErrorEvent")
	}
}

type failingStreamLLM struct{}

func (f *failingStreamLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	return "", errors.New("not used")
}
func (f *failingStreamLLM) Name() string { return "failing-stream-llm" }
func (f *failingStreamLLM) Stream(ctx context.Context, system PromptBlocks, tools []ToolDefinition, messages []Message, onEvent func(LLMStreamEvent) error) error {
	return errors.New("stream failed")
}
