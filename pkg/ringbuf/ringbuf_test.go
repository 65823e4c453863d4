package ringbuf

import (
	"testing"

	"github.com/drgolem/gapless/pkg/pcmfmt"
)

func monoFormat() pcmfmt.Format { return pcmfmt.Format{SampleRate: 48000, Channels: 1} }

func TestAllocateRoundsToPowerOf2(t *testing.T) {
	tests := []struct {
		requested int
		expected  uint64
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{100, 128},
		{1000, 1024},
		{1024, 1024},
	}

	for _, tt := range tests {
		rb, err := Allocate(monoFormat(), tt.requested)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", tt.requested, err)
		}
		if rb.Capacity() != tt.expected {
			t.Errorf("Allocate(%d): got capacity %d, want %d", tt.requested, rb.Capacity(), tt.expected)
		}
	}
}

func TestAllocateRejectsInvalid(t *testing.T) {
	if _, err := Allocate(pcmfmt.Format{SampleRate: 0, Channels: 1}, 16); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := Allocate(pcmfmt.Format{SampleRate: 48000, Channels: 0}, 16); err == nil {
		t.Error("expected error for zero channels")
	}
	if _, err := Allocate(monoFormat(), 0); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	rb, err := Allocate(pcmfmt.Format{SampleRate: 48000, Channels: 2}, 16)
	if err != nil {
		t.Fatal(err)
	}

	src := pcmfmt.Buffers{
		{1, 2, 3, 4, 5},
		{10, 20, 30, 40, 50},
	}

	written := rb.Write(src, 5)
	if written != 5 {
		t.Fatalf("Write: got %d, want 5", written)
	}

	dst := pcmfmt.Buffers{make([]float32, 5), make([]float32, 5)}
	read := rb.Read(dst, 5)
	if read != 5 {
		t.Fatalf("Read: got %d, want 5", read)
	}
	for ch := 0; ch < 2; ch++ {
		for i := 0; i < 5; i++ {
			if dst[ch][i] != src[ch][i] {
				t.Errorf("ch %d frame %d: got %v, want %v", ch, i, dst[ch][i], src[ch][i])
			}
		}
	}
}

func TestWrapAroundPreservesOrder(t *testing.T) {
	rb, err := Allocate(monoFormat(), 4) // capacity 4, 3 usable
	if err != nil {
		t.Fatal(err)
	}

	// Fill, drain, then fill across the wrap boundary.
	rb.Write(pcmfmt.Buffers{{1, 2, 3}}, 3)
	out := pcmfmt.Buffers{make([]float32, 3)}
	rb.Read(out, 3)

	rb.Write(pcmfmt.Buffers{{4, 5, 6}}, 3)
	out2 := pcmfmt.Buffers{make([]float32, 3)}
	n := rb.Read(out2, 3)
	if n != 3 {
		t.Fatalf("Read after wrap: got %d, want 3", n)
	}
	want := []float32{4, 5, 6}
	for i, w := range want {
		if out2[0][i] != w {
			t.Errorf("wrap frame %d: got %v, want %v", i, out2[0][i], w)
		}
	}
}

func TestNeverStoresMoreThanCapacityMinusOne(t *testing.T) {
	rb, err := Allocate(monoFormat(), 8)
	if err != nil {
		t.Fatal(err)
	}

	huge := make([]float32, 100)
	written := rb.Write(pcmfmt.Buffers{huge}, 100)
	if uint64(written) != rb.Capacity()-1 {
		t.Errorf("Write: got %d, want capacity-1=%d", written, rb.Capacity()-1)
	}
	if rb.FramesAvailableToRead()+rb.FramesAvailableToWrite() != rb.Capacity()-1 {
		t.Errorf("invariant violated: read+write available = %d, want %d",
			rb.FramesAvailableToRead()+rb.FramesAvailableToWrite(), rb.Capacity()-1)
	}
}

func TestCapacityOneAlwaysEmpty(t *testing.T) {
	rb, err := Allocate(monoFormat(), 1)
	if err != nil {
		t.Fatal(err)
	}
	written := rb.Write(pcmfmt.Buffers{{1, 2, 3}}, 3)
	if written != 0 {
		t.Errorf("capacity-1 buffer: got %d frames written, want 0", written)
	}
	if rb.FramesAvailableToRead() != 0 {
		t.Errorf("capacity-1 buffer: got %d available to read, want 0", rb.FramesAvailableToRead())
	}
}

func TestResetClearsCursors(t *testing.T) {
	rb, err := Allocate(monoFormat(), 8)
	if err != nil {
		t.Fatal(err)
	}
	rb.Write(pcmfmt.Buffers{{1, 2, 3}}, 3)
	rb.Reset()
	if rb.FramesAvailableToRead() != 0 {
		t.Errorf("after Reset: got %d available to read, want 0", rb.FramesAvailableToRead())
	}
	if rb.FramesAvailableToWrite() != rb.Capacity()-1 {
		t.Errorf("after Reset: got %d available to write, want %d", rb.FramesAvailableToWrite(), rb.Capacity()-1)
	}
}

func TestPartialWriteWhenFull(t *testing.T) {
	rb, err := Allocate(monoFormat(), 4)
	if err != nil {
		t.Fatal(err)
	}
	written := rb.Write(pcmfmt.Buffers{{1, 2, 3, 4, 5}}, 5)
	if uint64(written) != rb.Capacity()-1 {
		t.Fatalf("got %d, want %d", written, rb.Capacity()-1)
	}
}
