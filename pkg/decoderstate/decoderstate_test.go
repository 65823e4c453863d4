package decoderstate

import (
	"testing"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/decoders/memtest"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

func newScratch(channels, n int) pcmfmt.Buffers {
	b := make(pcmfmt.Buffers, channels)
	for i := range b {
		b[i] = make([]float32, n)
	}
	return b
}

func TestDecodeIntoAccumulatesFramesDecoded(t *testing.T) {
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3, 4, 5}}, false)
	if err := dec.Open(); err != nil {
		t.Fatal(err)
	}

	s := New(dec, 1, nil)
	scratch := newScratch(1, 8)
	dst := newScratch(1, 8)

	n, eos, err := s.DecodeInto(scratch, dst, 8)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("got %d frames, want 5", n)
	}
	if eos {
		t.Fatal("unexpected end-of-stream on first call")
	}
	if s.FramesDecoded() != 5 {
		t.Fatalf("FramesDecoded: got %d, want 5", s.FramesDecoded())
	}
	want := []float32{1, 2, 3, 4, 5}
	for i, w := range want {
		if dst[0][i] != w {
			t.Errorf("dst[0][%d]: got %v, want %v", i, dst[0][i], w)
		}
	}

	// Next call: no more data -> end of stream.
	n2, eos2, err := s.DecodeInto(scratch, dst, 8)
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 0 || !eos2 {
		t.Fatalf("second call: got n=%d eos=%v, want n=0 eos=true", n2, eos2)
	}
}

func TestDecodeIntoAppliesChannelMap(t *testing.T) {
	format := pcmfmt.Format{SampleRate: 48000, Channels: 2}
	// Decoder produces [L, R] but the channel map swaps them: output
	// channel 0 <- input channel 1, output channel 1 <- input channel 0.
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3}, {10, 20, 30}}, false)
	if err := dec.Open(); err != nil {
		t.Fatal(err)
	}

	s := New(dec, 1, pcmfmt.ChannelMap{1, 0})
	scratch := newScratch(2, 3)
	dst := newScratch(2, 3)

	n, _, err := s.DecodeInto(scratch, dst, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %d, want 3", n)
	}
	if dst[0][0] != 10 || dst[1][0] != 1 {
		t.Errorf("channel map not applied: dst[0]=%v dst[1]=%v", dst[0], dst[1])
	}
}

func TestFlagsSetAndTest(t *testing.T) {
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1}}, false)
	s := New(dec, 1, nil)

	if s.TestFlag(decoder.FlagDecodingStarted) {
		t.Fatal("flag should not be set initially")
	}
	s.SetFlag(decoder.FlagDecodingStarted)
	if !s.TestFlag(decoder.FlagDecodingStarted) {
		t.Fatal("flag should be set after SetFlag")
	}
	if s.TestFlag(decoder.FlagRenderingComplete) {
		t.Fatal("unrelated flag should remain unset")
	}
	s.SetFlag(decoder.FlagRenderingComplete)
	if !s.TestFlag(decoder.FlagDecodingStarted) || !s.TestFlag(decoder.FlagRenderingComplete) {
		t.Fatal("both flags should be set")
	}
}

func TestPositionSnapshotTracksSeekOriginAndRendered(t *testing.T) {
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3, 4, 5}}, true)
	s := New(dec, 1, nil)

	pos, length := s.PositionSnapshot()
	if pos != 0 || length != 5 {
		t.Fatalf("initial snapshot: got pos=%d length=%d, want pos=0 length=5", pos, length)
	}

	s.AddFramesRendered(3)
	pos, _ = s.PositionSnapshot()
	if pos != 3 {
		t.Fatalf("after rendering 3: got pos=%d, want 3", pos)
	}

	s.SetSeekOrigin(500)
	pos, _ = s.PositionSnapshot()
	if pos != 500 {
		t.Fatalf("after seek to 500: got pos=%d, want 500", pos)
	}
	if s.FramesRendered() != 0 || s.FramesDecoded() != 0 {
		t.Fatalf("seek should reset counters: rendered=%d decoded=%d", s.FramesRendered(), s.FramesDecoded())
	}
}

func TestUnknownFrameLength(t *testing.T) {
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3}}, false).WithUnknownLength()
	s := New(dec, 1, nil)
	_, length := s.PositionSnapshot()
	if length != pcmfmt.FrameUnknown {
		t.Fatalf("got %d, want FrameUnknown", length)
	}
}
