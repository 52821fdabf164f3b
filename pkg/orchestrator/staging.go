package orchestrator

import (
	"context"
	"sync"
)

// stagingCapacity is the bounded FIFO depth from spec §4.3.
const stagingCapacity = 32

// pressureThreshold is the occupancy fraction at or above which
// PressureWarning fires.
const pressureThreshold = 0.75

// AudioFrame is one PCM chunk traveling through the Audio Staging channel,
// or the `end` sentinel marking end-of-utterance.
type AudioFrame struct {
	PCM []byte
	End bool
}

// AudioStaging is the bounded producer/consumer channel of PCM frames
// sitting between the TTS stage and the Player. Generalizes the teacher's
// ad hoc `events chan OrchestratorEvent` + `drainAudioChunks` idiom in
// managed_stream.go into its own reusable type.
type AudioStaging struct {
	frames chan AudioFrame

	mu      sync.Mutex
	onPress func(occupancy float64)
}

// NewAudioStaging returns an empty staging channel at the spec-mandated
// capacity.
func NewAudioStaging() *AudioStaging {
	return &AudioStaging{frames: make(chan AudioFrame, stagingCapacity)}
}

// OnPressure registers a callback invoked (synchronously, from the
// producer's goroutine) whenever a Send leaves occupancy at or above
// pressureThreshold.
func (s *AudioStaging) OnPressure(f func(occupancy float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPress = f
}

// Send enqueues a frame, blocking the caller when the channel is full
// (backpressure) or returning early if ctx is cancelled first.
func (s *AudioStaging) Send(ctx context.Context, frame AudioFrame) error {
	select {
	case s.frames <- frame:
		s.checkPressure()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues a frame without blocking; it returns false if the
// channel is currently full.
func (s *AudioStaging) TrySend(frame AudioFrame) bool {
	select {
	case s.frames <- frame:
		s.checkPressure()
		return true
	default:
		return false
	}
}

// Receive blocks until a frame is available or ctx is cancelled.
func (s *AudioStaging) Receive(ctx context.Context) (AudioFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return AudioFrame{}, ctx.Err()
	}
}

// Occupancy returns the current fraction of capacity in use, in [0, 1].
func (s *AudioStaging) Occupancy() float64 {
	return float64(len(s.frames)) / float64(stagingCapacity)
}

// Drain empties the channel, discarding every pending frame, and returns the
// count discarded. Used on barge-in: the in-flight assistant audio must not
// continue playing once the user starts speaking.
func (s *AudioStaging) Drain() int {
	n := 0
	for {
		select {
		case <-s.frames:
			n++
		default:
			return n
		}
	}
}

func (s *AudioStaging) checkPressure() {
	occ := s.Occupancy()
	if occ < pressureThreshold {
		return
	}
	s.mu.Lock()
	cb := s.onPress
	s.mu.Unlock()
	if cb != nil {
		cb(occ)
	}
}
