package orchestrator

import (
	"context"
	"sync"
)

type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}

// LLMEventType distinguishes the elements of the lazy event sequence an
// LLMProvider.Stream call produces, per spec §4.4.
type LLMEventType string

const (
	LLMEventTextDelta LLMEventType = "text_delta"
	LLMEventToolUse    LLMEventType = "tool_use_block"
	LLMEventStop       LLMEventType = "stop"
)

// ToolDefinition describes one callable tool offered to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// LLMStreamEvent is one element of the ordered lazy sequence a streaming
// LLM call produces: a text delta, a completed tool-use block, or a
// terminal stop marker.
type LLMStreamEvent struct {
	Type        LLMEventType
	TextDelta   string
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]interface{}
}

type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// StreamingLLMProvider is implemented by providers that can emit a lazy
// sequence of text deltas and tool-use blocks instead of one blocking
// completion, per spec §4.4's LLM collaborator contract. A single stream is
// active at a time per provider instance; Stream is restartable across
// turns and honors ctx cancellation at the next await point.
type StreamingLLMProvider interface {
	LLMProvider
	Stream(ctx context.Context, system PromptBlocks, tools []ToolDefinition, messages []Message, onEvent func(LLMStreamEvent) error) error
}

type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	// Abort cancels the active StreamSynthesize call, if any, causing it to
	// return at its next suspension point. Safe to call when idle.
	Abort() error
	Name() string
}

// Player is the collaborator contract over the OS audio sink, per spec
// §4.4.
type Player interface {
	Start() error
	Play(frame []byte) error
	// Finish closes the input and waits for the sink to drain.
	Finish() error
	// Kill terminates playback immediately, discarding anything buffered.
	Kill() error
}

// Memory is the collaborator contract for retrieval-augmented context and
// post-turn extraction, per spec §4.4. Both methods may fail; failures are
// non-fatal to the turn.
type Memory interface {
	PreLoad(ctx context.Context, query string) (string, error)
	ExtractAndSave(ctx context.Context, messages []Message) error
}

type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string
}

type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)

type VADEvent struct {
	Type      VADEventType
	Timestamp int64
}

type EventType string

const (
	UserSpeaking      EventType = "USER_SPEAKING"
	UserStopped       EventType = "USER_STOPPED"
	TranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	TranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	BotThinking       EventType = "BOT_THINKING"
	BotSpeaking       EventType = "BOT_SPEAKING"
	// BotResponse carries the final assistant text once a turn completes.
	BotResponse EventType = "BOT_RESPONSE"
	Interrupted EventType = "INTERRUPTED"
	AudioChunk  EventType = "AUDIO_CHUNK"
	ErrorEvent  EventType = "ERROR"
)

type OrchestratorEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
	LanguageKo Language = "ko"
)

// Message is one entry in a conversation log. Role is one of "user",
// "assistant", "system", or the Context Store's RoleToolUse/RoleToolResult.
// ToolName/ToolUseID are set only on tool_use/tool_result messages.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// Config holds every environment-tunable knob spec §6 recognizes.
// pkg/config fills part of it from its defaults, agent.yaml and the
// environment (see config.Load and OrchestratorConfig), and effort/name
// fields are passed through to provider calls unchanged.
type Config struct {
	SampleRate         int
	Channels           int
	BytesPerSamp       int
	MaxContextMessages int
	VoiceStyle         Voice
	Language           Language
	STTTimeout         uint
	LLMTimeout         uint
	TTSTimeout         uint

	// MinWordsToInterrupt suppresses spurious barge-ins: a partial
	// transcript shorter than this many words while SPEAKING does not
	// trigger interruption on its own.
	MinWordsToInterrupt int

	// KeepSTTWarmOnIdle is the keep-warm flag for the STT connection across
	// idle periods. Open question #1 in spec §9; this repo defaults to true
	// (keep warm), since reconnect latency on the next utterance is worse
	// than the idle connection cost for a single-process voice agent. No
	// code reads the flag: the ACTIVE→IDLE transition never touches the STT
	// connection, whatever its value.
	KeepSTTWarmOnIdle bool

	// ActiveTimeoutSeconds is how long after tts_complete the state machine
	// waits before firing active_timeout (ACTIVE → IDLE). Default 30s.
	ActiveTimeoutSeconds int

	// MaxToolIterations is the hard per-turn cap on tool_iteration
	// self-loops (spec §5 Timeouts: 3).
	MaxToolIterations int

	// VADThresholdNormal / VADThresholdSpeaking hold RMS thresholds for
	// outside and during SPEAKING, respectively. Spec §9 open question #3
	// leaves the exact numbers unspecified; these are conservative
	// defaults. No code reads either field: the stream's RMSVAD keeps the
	// threshold it was built with (cmd/agent passes audio.vad_threshold),
	// and ManagedStream.Write raises it only for its 250ms echo guard, not
	// while SPEAKING.
	VADThresholdNormal   float64
	VADThresholdSpeaking float64

	// RetrievedContextTargetTokens is a target size for memory-retrieved
	// text per turn. No code reads it: Memory.PreLoad receives only the
	// query, and the amount retrieved is set by the memory store itself.
	RetrievedContextTargetTokens int

	// SlidingWindowTurns is N in the Context Store's last-N-turn window.
	SlidingWindowTurns int

	LogLevel string
}

func DefaultConfig() Config {
	return Config{
		SampleRate:                   44100,
		Channels:                     1,
		BytesPerSamp:                 2,
		MaxContextMessages:           20,
		VoiceStyle:                   VoiceF1,
		Language:                     LanguageEn,
		STTTimeout:                   30,
		LLMTimeout:                   60,
		TTSTimeout:                   30,
		MinWordsToInterrupt:          2,
		KeepSTTWarmOnIdle:            true,
		ActiveTimeoutSeconds:         30,
		MaxToolIterations:            3,
		VADThresholdNormal:           0.02,
		VADThresholdSpeaking:         0.05,
		RetrievedContextTargetTokens: 1000,
		SlidingWindowTurns:           10,
		LogLevel:                     "info",
	}
}

type ConversationSession struct {
	mu              sync.RWMutex
	ID              string
	Context         []Message
	LastUser        string
	LastAssistant   string
	MaxMessages     int
	CurrentVoice    Voice
	CurrentLanguage Language
}

func NewConversationSession(userID string) *ConversationSession {
	return &ConversationSession{
		ID:              userID,
		Context:         []Message{},
		MaxMessages:     20,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
	}
}

func (s *ConversationSession) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = append(s.Context, Message{Role: role, Content: content})
	if len(s.Context) > s.MaxMessages {
		s.Context = s.Context[len(s.Context)-s.MaxMessages:]
	}
	if role == "user" {
		s.LastUser = content
	} else if role == "assistant" {
		s.LastAssistant = content
	}
}

func (s *ConversationSession) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = []Message{}
	s.LastUser = ""
	s.LastAssistant = ""
}

func (s *ConversationSession) GetContextCopy() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contextCopy := make([]Message, len(s.Context))
	copy(contextCopy, s.Context)
	return contextCopy
}

func (s *ConversationSession) GetCurrentVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentVoice
}

func (s *ConversationSession) GetCurrentLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentLanguage
}
