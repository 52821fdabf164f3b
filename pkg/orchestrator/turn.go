package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/voice-orchestrator/pkg/chunker"
)

// ToolExecutor runs one tool call and returns its result text, or an error
// which is itself returned to the LLM as the tool result (spec §4.6
// failure semantics: "Tool execution error: return the error object as the
// tool result; let the LLM observe it.").
type ToolExecutor func(ctx context.Context, name string, input map[string]interface{}) (string, error)

// TurnProcessor drives one user turn end-to-end: LLM streaming, sentence
// chunking, per-sentence TTS, audio staging, and the bounded tool loop.
// Grounded on managed_stream.go's runLLMAndTTS/runBatchPipeline
// (interrupt-first, context-per-stage, event-emitting), generalized from a
// one-shot completion into a streamed sentence/tool loop.
type TurnProcessor struct {
	llm      StreamingLLMProvider
	tts      TTSProvider
	memory   Memory
	store    *ContextStore
	staging  *AudioStaging
	state    *StateMachine
	tools    []ToolDefinition
	exec     ToolExecutor
	config   Config
	logger   Logger
	registry *TaskRegistry

	// rootCtx outlives any single turn's ctx (which is cancelled on
	// barge-in). Background work that must survive a barge-in — memory
	// extraction, the active-timeout timer — is spawned against this
	// context instead, and is still cut short by Registry.ShutdownAll on
	// stream teardown.
	rootCtx context.Context

	mu                  sync.Mutex
	activeTimeoutCancel context.CancelFunc
	onAssistantText     func(text string)
}

// NewTurnProcessor wires the collaborators a turn needs. memory and exec
// may be nil (no tools / no retrieval). rootCtx is the stream's long-lived
// context (outliving any single turn), used to spawn background work via
// registry that must not be cancelled by barge-in.
func NewTurnProcessor(llm StreamingLLMProvider, tts TTSProvider, memory Memory, store *ContextStore, staging *AudioStaging, state *StateMachine, tools []ToolDefinition, exec ToolExecutor, cfg Config, logger Logger, registry *TaskRegistry, rootCtx context.Context) *TurnProcessor {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &TurnProcessor{
		llm:      llm,
		tts:      tts,
		memory:   memory,
		store:    store,
		staging:  staging,
		state:    state,
		tools:    tools,
		exec:     exec,
		config:   cfg,
		logger:   logger,
		registry: registry,
		rootCtx:  rootCtx,
	}
}

// OnAssistantText registers a callback invoked once, with the final
// assistant text, when a turn completes normally (not on barge-in
// discard).
func (p *TurnProcessor) OnAssistantText(f func(text string)) {
	p.onAssistantText = f
}

// CancelActiveTimeout cancels a pending active-timeout timer armed by a
// previous turn, if any. Callers invoke this the moment speech is detected
// (spec §4.7 active_timeout_fired is only legal from ACTIVE, and resuming
// speech must pre-empt it rather than race it).
func (p *TurnProcessor) CancelActiveTimeout() {
	p.mu.Lock()
	cancel := p.activeTimeoutCancel
	p.activeTimeoutCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// armActiveTimeout spawns, via the registry, a timer that fires
// EventActiveTimeout after Config.ActiveTimeoutSeconds of inactivity
// (spec §4.6 step 3, §4.7 active_timeout_fired). It is spawned against
// rootCtx so a subsequent turn's barge-in doesn't implicitly cancel it;
// CancelActiveTimeout (called on the next speech_detected) or
// Registry.ShutdownAll are the only ways it stops early.
func (p *TurnProcessor) armActiveTimeout() {
	p.CancelActiveTimeout()

	seconds := p.config.ActiveTimeoutSeconds
	if seconds <= 0 {
		return
	}

	timerCtx, cancel := context.WithCancel(p.rootCtx)
	p.mu.Lock()
	p.activeTimeoutCancel = cancel
	p.mu.Unlock()

	p.registry.Spawn(timerCtx, func(ctx context.Context) error {
		timer := time.NewTimer(time.Duration(seconds) * time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := p.state.Fire(EventActiveTimeout); err != nil && err != ErrInvalidTransition {
				p.logger.Warn("active timeout fire failed", "error", err)
			}
			return nil
		}
	})
}

// RunTurn executes the algorithm in spec §4.6 for one committed user
// transcript. It returns when the turn completes (assistant text appended,
// state reaches ACTIVE) or ctx is cancelled (barge-in / shutdown), in
// which case the partial assistant text is discarded per spec §4.6 step 5.
func (p *TurnProcessor) RunTurn(ctx context.Context, userTranscript string) error {
	p.store.AppendUser(userTranscript)

	var retrieved string
	if p.memory != nil {
		if text, err := p.memory.PreLoad(ctx, userTranscript); err == nil {
			retrieved = text
		} else {
			p.logger.Warn("memory pre_load failed, continuing without retrieved context", "error", err)
		}
	}

	var finalText string
	iterations := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if iterations >= p.config.MaxToolIterations {
			p.logger.Warn("tool iteration cap reached, ending turn with last non-tool text", "iterations", iterations)
			break
		}

		system := p.store.SystemPrompt(retrieved, dynamicBlock())
		window := p.store.Window(p.config.SlidingWindowTurns)

		text, toolCalls, err := p.streamOneIteration(ctx, system, window)
		if err != nil {
			return err
		}
		if text != "" {
			finalText = text
		}

		if len(toolCalls) == 0 {
			break
		}
		iterations++

		for _, call := range toolCalls {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			p.store.AppendToolUse(call.ToolUseID, call.ToolName, "")
			result, err := p.runTool(ctx, call)
			p.store.AppendToolResult(call.ToolUseID, call.ToolName, result)
			if err != nil {
				p.logger.Warn("tool execution failed, result carries the error", "tool", call.ToolName, "error", err)
			}
		}
		if _, err := p.state.Fire(EventToolIteration); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if finalText != "" {
		p.store.AppendAssistant(finalText)
		if p.onAssistantText != nil {
			p.onAssistantText(finalText)
		}
		if p.memory != nil {
			// Spawned against rootCtx, not ctx: extraction must survive
			// barge-in (ctx is cancelled the instant the next turn starts)
			// and must be awaited by Registry.ShutdownAll, not abandoned.
			messages := p.store.Full()
			p.registry.Spawn(p.rootCtx, func(taskCtx context.Context) error {
				if err := p.memory.ExtractAndSave(taskCtx, messages); err != nil {
					p.logger.Warn("memory extract_and_save failed", "error", err)
				}
				return nil
			})
		}
	}

	// A turn that never staged any audio (every sentence failed TTS, or the
	// assistant produced no text) never fired tts_started, so the machine is
	// still in PROCESSING. Walk it through SPEAKING so tts_complete is legal
	// either way; the session still reaches ACTIVE.
	if p.state.Current() == StateProcessing {
		if _, err := p.state.Fire(EventTTSStarted); err != nil {
			return err
		}
	}
	if _, err := p.state.Fire(EventTTSComplete); err != nil {
		return err
	}
	p.armActiveTimeout()
	return nil
}

// dynamicBlock renders the per-request, never-cache-eligible system-prompt
// block: wall-clock time and zone (spec §3 System Prompt).
func dynamicBlock() string {
	now := time.Now()
	zone, _ := now.Zone()
	return fmt.Sprintf("Current time: %s (%s)", now.Format("Monday, January 2, 2006 15:04:05"), zone)
}

type toolCall struct {
	ToolUseID string
	ToolName  string
	Input     map[string]interface{}
}

// streamOneIteration drives a single LLM stream: text deltas are chunked
// into sentences and synthesized/staged as they complete; tool_use blocks
// are collected for the caller to execute. It transitions
// PROCESSING → SPEAKING on the first successfully staged frame.
func (p *TurnProcessor) streamOneIteration(ctx context.Context, system PromptBlocks, window []Message) (text string, calls []toolCall, err error) {
	c := chunker.New()
	var fullText string
	spoke := false

	// The End sentinel must reach the consumer whether this iteration
	// finishes cleanly, errors out, or is cut short by cancellation —
	// otherwise a drain loop reading the staging channel blocks forever.
	// Bounded on its own clock so a cancelled ctx can't suppress it either.
	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.staging.Send(endCtx, AudioFrame{End: true})
	}()

	onSentence := func(sentence string) error {
		return p.synthesizeSentence(ctx, sentence, &spoke)
	}

	streamErr := p.llm.Stream(ctx, system, p.tools, window, func(ev LLMStreamEvent) error {
		switch ev.Type {
		case LLMEventTextDelta:
			fullText += ev.TextDelta
			completed, _ := c.Push(ev.TextDelta)
			for _, s := range completed {
				if err := onSentence(s); err != nil {
					return err
				}
			}
		case LLMEventToolUse:
			calls = append(calls, toolCall{ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, Input: ev.ToolInput})
		case LLMEventStop:
			if sentence, ok := c.Flush(); ok {
				if err := onSentence(sentence); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if streamErr != nil {
		return "", nil, streamErr
	}

	return fullText, calls, nil
}

func (p *TurnProcessor) synthesizeSentence(ctx context.Context, sentence string, spoke *bool) error {
	err := p.tts.StreamSynthesize(ctx, sentence, p.config.VoiceStyle, p.config.Language, func(chunk []byte) error {
		if sendErr := p.staging.Send(ctx, AudioFrame{PCM: chunk}); sendErr != nil {
			return sendErr
		}
		if !*spoke {
			*spoke = true
			if _, transErr := p.state.Fire(EventTTSStarted); transErr != nil && transErr != ErrInvalidTransition {
				return transErr
			}
		}
		return nil
	})
	if err != nil {
		// Per spec §4.6 failure semantics: skip this sentence, continue
		// with the next; do not abort the whole turn.
		p.logger.Warn("tts failed for sentence, skipping", "error", err)
		return nil
	}
	return nil
}

func (p *TurnProcessor) runTool(ctx context.Context, call toolCall) (string, error) {
	if p.exec == nil {
		return "", ErrNilProvider
	}
	result, err := p.exec(ctx, call.ToolName, call.Input)
	if err != nil {
		return err.Error(), err
	}
	return result, nil
}
