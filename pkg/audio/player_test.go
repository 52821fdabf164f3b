package audio

import "testing"

func TestPlaybackBufferDrainPartial(t *testing.T) {
	b := &playbackBuffer{}
	if err := b.push([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("push: %v", err)
	}

	out := make([]byte, 2)
	remaining := b.drain(out)
	if !equalBytes(out, []byte{1, 2}) {
		t.Errorf("drain output = %v, want [1 2]", out)
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}
}

func TestPlaybackBufferDrainZeroFillsShortfall(t *testing.T) {
	b := &playbackBuffer{}
	if err := b.push([]byte{9, 9}); err != nil {
		t.Fatalf("push: %v", err)
	}

	out := make([]byte, 5)
	remaining := b.drain(out)
	if !equalBytes(out, []byte{9, 9, 0, 0, 0}) {
		t.Errorf("drain output = %v, want [9 9 0 0 0]", out)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestPlaybackBufferClear(t *testing.T) {
	b := &playbackBuffer{}
	_ = b.push([]byte{1, 2, 3})
	b.clear()
	if b.pending() != 0 {
		t.Errorf("pending() = %d after clear, want 0", b.pending())
	}
}

func TestPlaybackBufferPushAfterCloseErrors(t *testing.T) {
	b := &playbackBuffer{}
	b.close()
	if err := b.push([]byte{1}); err == nil {
		t.Errorf("expected an error pushing to a closed buffer")
	}
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
