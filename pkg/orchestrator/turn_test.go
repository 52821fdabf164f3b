package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeStreamingLLM lets each test script a fixed sequence of stream events
// per call; successive calls (tool loop iterations) pop the next script.
type fakeStreamingLLM struct {
	scripts [][]LLMStreamEvent
	calls   int
}

func (f *fakeStreamingLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeStreamingLLM) Name() string { return "fake-llm" }

func (f *fakeStreamingLLM) Stream(ctx context.Context, system PromptBlocks, tools []ToolDefinition, messages []Message, onEvent func(LLMStreamEvent) error) error {
	if f.calls >= len(f.scripts) {
		return errors.New("fakeStreamingLLM: no script left")
	}
	script := f.scripts[f.calls]
	f.calls++
	for _, ev := range script {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// fakeTTS streams each input sentence back as a single "chunk" equal to its
// own bytes, unless configured to fail.
type fakeTTS struct {
	fail        bool
	synthesized []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return []byte(text), nil
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	if f.fail {
		return errors.New("tts unavailable")
	}
	f.synthesized = append(f.synthesized, text)
	return onChunk([]byte(text))
}

func (f *fakeTTS) Abort() error { return nil }
func (f *fakeTTS) Name() string { return "fake-tts" }

func textDelta(s string) LLMStreamEvent {
	return LLMStreamEvent{Type: LLMEventTextDelta, TextDelta: s}
}

func stopEvent() LLMStreamEvent {
	return LLMStreamEvent{Type: LLMEventStop}
}

func newTestProcessor(llm StreamingLLMProvider, tts TTSProvider, cfg Config) (*TurnProcessor, *StateMachine, *AudioStaging) {
	store := NewContextStore("persona")
	staging := NewAudioStaging()
	sm := NewStateMachine()
	p := NewTurnProcessor(llm, tts, nil, store, staging, sm, nil, nil, cfg, nil, NewTaskRegistry(), context.Background())
	return p, sm, staging
}

// drainStaging drains every frame it can read within a short deadline,
// returning the collected frames and whether an End sentinel was seen.
func drainStaging(t *testing.T, staging *AudioStaging) ([]AudioFrame, bool) {
	t.Helper()
	var frames []AudioFrame
	sawEnd := false
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		f, err := staging.Receive(ctx)
		if err != nil {
			return frames, sawEnd
		}
		frames = append(frames, f)
		if f.End {
			sawEnd = true
			return frames, sawEnd
		}
	}
}

func TestTurnProcessor_CleanSingleTurn(t *testing.T) {
	llm := &fakeStreamingLLM{scripts: [][]LLMStreamEvent{
		{textDelta("Hello there. "), textDelta("How are you?"), stopEvent()},
	}}
	tts := &fakeTTS{}
	cfg := DefaultConfig()
	p, sm, staging := newTestProcessor(llm, tts, cfg)

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.RunTurn(context.Background(), "hi") }()

	frames, sawEnd := drainStaging(t, staging)
	if err := <-done; err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if !sawEnd {
		t.Fatalf("expected an End sentinel frame")
	}
	if len(frames) < 3 {
		t.Fatalf("expected at least 2 sentence frames + end sentinel, got %d: %+v", len(frames), frames)
	}
	if sm.Current() != StateActive {
		t.Fatalf("expected ACTIVE after a clean turn, got %s", sm.Current())
	}

	full := p.store.Full()
	if len(full) != 2 {
		t.Fatalf("expected user+assistant messages, got %d: %+v", len(full), full)
	}
	if full[0].Role != RoleUser || full[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", full[0])
	}
	if full[1].Role != RoleAssistant {
		t.Fatalf("expected assistant message, got %+v", full[1])
	}
	want := "Hello there. How are you?"
	if full[1].Content != want {
		t.Fatalf("expected assistant content %q, got %q", want, full[1].Content)
	}
}

func TestTurnProcessor_ToolLoopThenFinalText(t *testing.T) {
	llm := &fakeStreamingLLM{scripts: [][]LLMStreamEvent{
		{
			{Type: LLMEventToolUse, ToolUseID: "t1", ToolName: "get_time", ToolInput: map[string]interface{}{}},
			stopEvent(),
		},
		{textDelta("It is noon."), stopEvent()},
	}}
	tts := &fakeTTS{}
	cfg := DefaultConfig()

	var executedTool string
	store := NewContextStore("persona")
	staging := NewAudioStaging()
	sm := NewStateMachine()
	exec := func(ctx context.Context, name string, input map[string]interface{}) (string, error) {
		executedTool = name
		return "12:00", nil
	}
	p := NewTurnProcessor(llm, tts, nil, store, staging, sm, nil, exec, cfg, nil, NewTaskRegistry(), context.Background())

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.RunTurn(context.Background(), "what time is it") }()

	_, sawEnd := drainStaging(t, staging)
	if !sawEnd {
		t.Fatalf("expected first iteration's End sentinel")
	}
	// Second iteration produces its own audio frames + End sentinel.
	_, sawEnd2 := drainStaging(t, staging)
	if !sawEnd2 {
		t.Fatalf("expected second iteration's End sentinel")
	}

	if err := <-done; err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if executedTool != "get_time" {
		t.Fatalf("expected get_time to run, got %q", executedTool)
	}
	if sm.Current() != StateActive {
		t.Fatalf("expected ACTIVE after tool loop completes, got %s", sm.Current())
	}

	full := store.Full()
	var roles []string
	for _, m := range full {
		roles = append(roles, m.Role)
	}
	wantRoles := []string{RoleUser, RoleToolUse, RoleToolResult, RoleAssistant}
	if len(roles) != len(wantRoles) {
		t.Fatalf("expected roles %v, got %v", wantRoles, roles)
	}
	for i := range wantRoles {
		if roles[i] != wantRoles[i] {
			t.Fatalf("expected roles %v, got %v", wantRoles, roles)
		}
	}
}

func TestTurnProcessor_ToolIterationCapStopsLoop(t *testing.T) {
	toolEv := LLMStreamEvent{Type: LLMEventToolUse, ToolUseID: "t1", ToolName: "loop_tool", ToolInput: map[string]interface{}{}}
	// Every iteration keeps requesting a tool; processor must stop after
	// MaxToolIterations rather than looping forever.
	llm := &fakeStreamingLLM{scripts: [][]LLMStreamEvent{
		{toolEv, stopEvent()},
		{toolEv, stopEvent()},
		{toolEv, stopEvent()},
		{toolEv, stopEvent()},
	}}
	tts := &fakeTTS{}
	cfg := DefaultConfig()
	cfg.MaxToolIterations = 2

	store := NewContextStore("persona")
	staging := NewAudioStaging()
	sm := NewStateMachine()
	calls := 0
	exec := func(ctx context.Context, name string, input map[string]interface{}) (string, error) {
		calls++
		return "ok", nil
	}
	p := NewTurnProcessor(llm, tts, nil, store, staging, sm, nil, exec, cfg, nil, NewTaskRegistry(), context.Background())

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.RunTurn(context.Background(), "loop forever") }()

	for i := 0; i < cfg.MaxToolIterations; i++ {
		drainStaging(t, staging)
	}

	if err := <-done; err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if calls != cfg.MaxToolIterations {
		t.Fatalf("expected %d tool executions before the cap halts the loop, got %d", cfg.MaxToolIterations, calls)
	}
	if sm.Current() != StateActive {
		t.Fatalf("expected ACTIVE once the cap halts the loop, got %s", sm.Current())
	}
}

func TestTurnProcessor_BargeInDiscardsPartialText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	llm := &blockingLLM{cancel: cancel}
	tts := &fakeTTS{}
	cfg := DefaultConfig()
	p, sm, staging := newTestProcessor(llm, tts, cfg)
	_ = staging

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	err := p.RunTurn(ctx, "say something long")
	if err == nil {
		t.Fatalf("expected RunTurn to return an error on cancellation")
	}

	full := p.store.Full()
	if len(full) != 1 {
		t.Fatalf("expected only the user message to survive a barge-in, got %+v", full)
	}
	if full[0].Role != RoleUser {
		t.Fatalf("expected surviving message to be the user turn, got %+v", full[0])
	}
}

// blockingLLM emits one text delta, then cancels its own context (simulating
// a concurrent barge-in) before ever reaching LLMEventStop.
type blockingLLM struct {
	cancel context.CancelFunc
}

func (b *blockingLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	return "", errors.New("not used")
}

func (b *blockingLLM) Name() string { return "blocking-llm" }

func (b *blockingLLM) Stream(ctx context.Context, system PromptBlocks, tools []ToolDefinition, messages []Message, onEvent func(LLMStreamEvent) error) error {
	if err := onEvent(textDelta("partial fragment that never finishes")); err != nil {
		return err
	}
	b.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestTurnProcessor_TTSFailureSkipsSentenceButContinuesTurn(t *testing.T) {
	llm := &fakeStreamingLLM{scripts: [][]LLMStreamEvent{
		{textDelta("This sentence fails to speak."), stopEvent()},
	}}
	tts := &fakeTTS{fail: true}
	cfg := DefaultConfig()
	p, sm, staging := newTestProcessor(llm, tts, cfg)

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.RunTurn(context.Background(), "hi") }()

	_, sawEnd := drainStaging(t, staging)
	if !sawEnd {
		t.Fatalf("expected End sentinel even when every sentence fails to synthesize")
	}
	if err := <-done; err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if sm.Current() != StateActive {
		t.Fatalf("expected the turn to still reach ACTIVE despite TTS failures, got %s", sm.Current())
	}

	full := p.store.Full()
	if len(full) != 2 || full[1].Role != RoleAssistant {
		t.Fatalf("expected the assistant text to still be recorded, got %+v", full)
	}
}

// TestTurnProcessor_ActiveTimeoutFiresAfterInactivity covers the seed
// scenario where a turn reaches ACTIVE and no further speech arrives:
// ActiveTimeoutSeconds after tts_complete, the machine must fire
// EventActiveTimeout on its own and settle in IDLE.
func TestTurnProcessor_ActiveTimeoutFiresAfterInactivity(t *testing.T) {
	llm := &fakeStreamingLLM{scripts: [][]LLMStreamEvent{
		{textDelta("Done."), stopEvent()},
	}}
	tts := &fakeTTS{}
	cfg := DefaultConfig()
	cfg.ActiveTimeoutSeconds = 1
	p, sm, staging := newTestProcessor(llm, tts, cfg)

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.RunTurn(context.Background(), "goodbye") }()

	drainStaging(t, staging)
	if err := <-done; err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if sm.Current() != StateActive {
		t.Fatalf("expected ACTIVE immediately after the turn, got %s", sm.Current())
	}

	time.Sleep(2 * time.Second)
	if sm.Current() != StateIdle {
		t.Fatalf("expected IDLE once the active timeout fires, got %s", sm.Current())
	}
}

// TestTurnProcessor_ActiveTimeoutCancelledBySpeech covers the other half of
// the seed scenario: a CancelActiveTimeout call (as made when speech is
// detected before the timeout elapses) must prevent the ACTIVE -> IDLE
// transition from ever firing.
func TestTurnProcessor_ActiveTimeoutCancelledBySpeech(t *testing.T) {
	llm := &fakeStreamingLLM{scripts: [][]LLMStreamEvent{
		{textDelta("Done."), stopEvent()},
	}}
	tts := &fakeTTS{}
	cfg := DefaultConfig()
	cfg.ActiveTimeoutSeconds = 1
	p, sm, staging := newTestProcessor(llm, tts, cfg)

	if _, err := sm.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("arrange: %v", err)
	}
	if _, err := sm.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("arrange: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.RunTurn(context.Background(), "goodbye") }()

	drainStaging(t, staging)
	if err := <-done; err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}

	p.CancelActiveTimeout()

	time.Sleep(2 * time.Second)
	if sm.Current() != StateActive {
		t.Fatalf("expected cancellation to keep the machine ACTIVE, got %s", sm.Current())
	}
}
