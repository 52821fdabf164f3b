package orchestrator

import "errors"

var (
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrLLMFailed = errors.New("language model generation failed")

	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	ErrNilProvider = errors.New("required provider is nil")

	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrInvalidTransition is returned by the State Machine on an illegal
	// (state, event) pair. Per spec §7 this is a programmer error: fatal in
	// debug builds, logged and ignored in release.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrToolIterationCap names the condition where Config.MaxToolIterations
	// self-loops have already run. RunTurn does not return it: on reaching
	// the cap it logs a warning and completes the turn with the last
	// non-empty text the LLM produced.
	ErrToolIterationCap = errors.New("tool iteration cap reached")

	// ErrConfig marks a missing or invalid configuration value. Fatal only
	// at startup, per spec §7.
	ErrConfig = errors.New("invalid configuration")

	// ErrResourceExhaustion names audio queue overflow and DB pool
	// exhaustion. No code in this repository returns it, and no frames are
	// dropped on overflow: AudioStaging.Send blocks while the queue is full
	// and TrySend reports false.
	ErrResourceExhaustion = errors.New("resource exhausted")

	// ErrCancelled marks a cooperative cancellation signal distinct from a
	// raw context.Canceled, for call sites that want to unwind quietly
	// without treating it as a failure class.
	ErrCancelled = errors.New("operation cancelled")

	// ErrProtocolViolation marks a collaborator that returned malformed
	// frames. No provider in this repository returns it.
	ErrProtocolViolation = errors.New("collaborator protocol violation")
)
