package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// playbackBuffer is the FIFO byte queue a playback device callback drains
// in real time. Split out from MalgoPlayer so its semantics are testable
// without an actual audio device.
type playbackBuffer struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (b *playbackBuffer) push(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("audio: play on closed player")
	}
	b.buf = append(b.buf, frame...)
	return nil
}

// drain copies as much buffered audio as fits into out, zero-filling the
// remainder, and reports how many buffered bytes are still queued
// afterward.
func (b *playbackBuffer) drain(out []byte) (remaining int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(out, b.buf)
	b.buf = b.buf[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return len(b.buf)
}

func (b *playbackBuffer) clear() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
}

func (b *playbackBuffer) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *playbackBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// MalgoPlayer is a malgo-backed playback-only Player, implementing
// orchestrator.Player. Capture is owned separately by the caller (the CLI
// opens its own duplex/capture device and feeds mic audio straight into
// ManagedStream.Write); this type only ever drives speaker output.
type MalgoPlayer struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buf    *playbackBuffer
}

// NewMalgoPlayer opens a malgo playback device at the given sample rate
// (mono, 16-bit PCM, matching the rest of the pipeline).
func NewMalgoPlayer(sampleRate int) (*MalgoPlayer, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init malgo context: %w", err)
	}

	p := &MalgoPlayer{ctx: mctx, buf: &playbackBuffer{}}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			p.buf.drain(pOutput)
		},
	})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("audio: init playback device: %w", err)
	}
	p.device = device

	return p, nil
}

// Start begins playback. The device runs until Finish or Kill is called.
func (p *MalgoPlayer) Start() error {
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("audio: start playback device: %w", err)
	}
	return nil
}

// Play appends frame to the playback buffer; it is drained by the device
// callback as real time advances.
func (p *MalgoPlayer) Play(frame []byte) error {
	return p.buf.push(frame)
}

// Finish waits for the buffered audio to drain, then stops the device.
func (p *MalgoPlayer) Finish() error {
	for p.buf.pending() > 0 {
		time.Sleep(20 * time.Millisecond)
	}
	return p.stop()
}

// Kill stops playback immediately, discarding any buffered audio.
func (p *MalgoPlayer) Kill() error {
	p.buf.clear()
	return p.stop()
}

// Clear discards any buffered, not-yet-played audio without stopping the
// device — used for barge-in, where playback must resume immediately after.
func (p *MalgoPlayer) Clear() {
	p.buf.clear()
}

func (p *MalgoPlayer) stop() error {
	p.buf.close()
	if err := p.device.Stop(); err != nil {
		return fmt.Errorf("audio: stop playback device: %w", err)
	}
	p.device.Uninit()
	p.ctx.Uninit()
	return nil
}
