package render

import (
	"testing"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/decoders/memtest"
	"github.com/drgolem/gapless/pkg/eventqueue"
	"github.com/drgolem/gapless/pkg/pcmfmt"
	"github.com/drgolem/gapless/pkg/ringbuf"
)

func newHarness(t *testing.T, capacity int) (*Callback, *ringbuf.RingBuffer) {
	t.Helper()
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	ring, err := ringbuf.Allocate(format, capacity)
	if err != nil {
		t.Fatal(err)
	}
	events := eventqueue.New(16)
	cb := New(ring, events, make(chan struct{}, 1), make(chan struct{}, 1), make(chan *decoderstate.State, 16))
	return cb, ring
}

func decodeAllInto(t *testing.T, ring *ringbuf.RingBuffer, state *decoderstate.State, frameCount int) {
	t.Helper()
	scratch := pcmfmt.Buffers{make([]float32, frameCount)}
	dst := pcmfmt.Buffers{make([]float32, frameCount)}
	for {
		n, eos, err := state.DecodeInto(scratch, dst, frameCount)
		if err != nil {
			t.Fatal(err)
		}
		if n > 0 {
			ring.Write(pcmfmt.Buffers{dst[0][:n]}, n)
		}
		if eos {
			state.SetFlag(decoder.FlagDecodingComplete)
			return
		}
	}
}

func outBuf(n int) pcmfmt.Buffers {
	return pcmfmt.Buffers{make([]float32, n)}
}

func TestRenderSilenceWhenNoDecoder(t *testing.T) {
	cb, _ := newHarness(t, 64)
	out := outBuf(8)
	n := cb.Render(0, 8, out)
	if n != 8 {
		t.Fatalf("got %d, want 8", n)
	}
	for _, v := range out[0] {
		if v != 0 {
			t.Fatalf("expected silence, got %v", out[0])
		}
	}
}

func TestRenderSinglePassThrough(t *testing.T) {
	cb, ring := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3, 4, 5}}, false)
	if err := dec.Open(); err != nil {
		t.Fatal(err)
	}
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, state, 8)

	cb.PublishNext(state)

	out := outBuf(8)
	n := cb.Render(0, 8, out)
	if n != 8 {
		t.Fatalf("got %d, want 8", n)
	}
	want := []float32{1, 2, 3, 4, 5, 0, 0, 0}
	for i, w := range want {
		if out[0][i] != w {
			t.Errorf("out[%d]: got %v, want %v", i, out[0][i], w)
		}
	}
	if !state.TestFlag(decoder.FlagRenderingStarted) {
		t.Error("RenderingStarted flag not set")
	}
	if !state.TestFlag(decoder.FlagRenderingComplete) {
		t.Error("RenderingComplete flag not set")
	}

	seenKinds := map[eventqueue.Kind]bool{}
	for {
		ev, ok := cb.events.Pop()
		if !ok {
			break
		}
		seenKinds[ev.Kind] = true
	}
	for _, want := range []eventqueue.Kind{eventqueue.KindRenderingWillStart, eventqueue.KindRenderingStarted, eventqueue.KindRenderingComplete} {
		if !seenKinds[want] {
			t.Errorf("missing event %v", want)
		}
	}
}

func TestRenderGaplessBoundaryWithinOnePass(t *testing.T) {
	cb, ring := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}

	decA := memtest.New(format, pcmfmt.Buffers{{1, 2, 3}}, false)
	decA.Open()
	stateA := decoderstate.New(decA, 1, nil)
	stateA.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, stateA, 8)

	decB := memtest.New(format, pcmfmt.Buffers{{10, 20, 30, 40}}, false)
	decB.Open()
	stateB := decoderstate.New(decB, 2, nil)
	stateB.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, stateB, 8)

	// Promote A to current with a small first pass, then hand B to the
	// (now empty) next slot, so the second pass observes A already
	// current and B already waiting -- the configuration under which a
	// single Render call must finish A and start B together.
	cb.PublishNext(stateA)
	first := outBuf(1)
	cb.Render(0, 1, first)
	cb.PublishNext(stateB)

	out := outBuf(8)
	n := cb.Render(0, 8, out)
	if n != 8 {
		t.Fatalf("got %d, want 8", n)
	}
	want := []float32{2, 3, 10, 20, 30, 40, 0, 0}
	for i, w := range want {
		if out[0][i] != w {
			t.Errorf("out[%d]: got %v, want %v", i, out[0][i], w)
		}
	}
	if stateA.FramesRendered() != 3 {
		t.Errorf("stateA FramesRendered: got %d, want 3", stateA.FramesRendered())
	}
	if stateB.FramesRendered() != 4 {
		t.Errorf("stateB FramesRendered: got %d, want 4", stateB.FramesRendered())
	}
	if !stateA.TestFlag(decoder.FlagRenderingComplete) {
		t.Error("stateA should be RenderingComplete")
	}
}

func TestRenderPausedHoldsPosition(t *testing.T) {
	cb, ring := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3, 4}}, false)
	dec.Open()
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, state, 8)
	cb.PublishNext(state)

	cb.SetPaused(true)
	out := outBuf(4)
	cb.Render(0, 4, out)
	if state.FramesRendered() != 0 {
		t.Fatalf("paused render should not advance FramesRendered, got %d", state.FramesRendered())
	}
	for _, v := range out[0] {
		if v != 0 {
			t.Fatal("expected silence while paused")
		}
	}

	cb.SetPaused(false)
	cb.Render(0, 4, out)
	if state.FramesRendered() != 4 {
		t.Fatalf("after unpause, got %d, want 4", state.FramesRendered())
	}
}

func TestRenderDiscardSkipsWithoutOutput(t *testing.T) {
	cb, ring := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3, 4, 5}}, false)
	dec.Open()
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, state, 8)
	cb.PublishNext(state)
	state.MarkDiscard(true)

	out := outBuf(8)
	n := cb.Render(0, 8, out)
	if n != 8 {
		t.Fatalf("got %d, want 8", n)
	}
	for i, v := range out[0] {
		if v != 0 {
			t.Fatalf("out[%d]: expected silence for discarded decoder, got %v", i, v)
		}
	}
	if state.FramesRendered() != 5 {
		t.Fatalf("discarded decoder FramesRendered: got %d, want 5", state.FramesRendered())
	}
}

func TestRenderZeroLengthDecoderSkipsRenderingStarted(t *testing.T) {
	cb, _ := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{}}, false)
	dec.Open()
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	state.SetFlag(decoder.FlagDecodingComplete)

	cb.PublishNext(state)
	out := outBuf(4)
	cb.Render(0, 4, out)

	if state.TestFlag(decoder.FlagRenderingStarted) {
		t.Error("zero-length decoder should never set RenderingStarted")
	}
	if !state.TestFlag(decoder.FlagRenderingComplete) {
		t.Error("zero-length decoder should still be marked RenderingComplete")
	}

	sawWillStart := false
	for {
		ev, ok := cb.events.Pop()
		if !ok {
			break
		}
		if ev.Kind == eventqueue.KindRenderingWillStart {
			sawWillStart = true
		}
	}
	if sawWillStart {
		t.Error("zero-length decoder should not emit RenderingWillStart")
	}
}

func TestRenderCanceledDecoderSuppressesRenderingComplete(t *testing.T) {
	cb, ring := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3, 4, 5}}, false)
	dec.Open()
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, state, 8)
	cb.PublishNext(state)

	// Simulate CancelCurrentDecoder/the flush protocol: mark canceled and
	// discarding before the render side has consumed any of its frames.
	state.SetFlag(decoder.FlagDecodingCanceled)
	state.MarkDiscard(true)

	out := outBuf(8)
	cb.Render(0, 8, out)

	if !state.TestFlag(decoder.FlagRenderingComplete) {
		t.Error("canceled decoder should still be marked RenderingComplete internally, for retirement")
	}
	for {
		ev, ok := cb.events.Pop()
		if !ok {
			break
		}
		if ev.Kind == eventqueue.KindRenderingComplete {
			t.Error("canceled decoder must not emit a RenderingComplete event")
		}
	}
}

func TestRenderZeroLengthCanceledDecoderSuppressesRenderingComplete(t *testing.T) {
	cb, _ := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{}}, false)
	dec.Open()
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	state.SetFlag(decoder.FlagDecodingCanceled)
	state.SetFlag(decoder.FlagDecodingComplete)

	cb.PublishNext(state)
	out := outBuf(4)
	cb.Render(0, 4, out)

	if !state.TestFlag(decoder.FlagRenderingComplete) {
		t.Error("canceled zero-length decoder should still be marked RenderingComplete internally")
	}
	for {
		ev, ok := cb.events.Pop()
		if !ok {
			break
		}
		if ev.Kind == eventqueue.KindRenderingComplete {
			t.Error("canceled zero-length decoder must not emit a RenderingComplete event")
		}
	}
}

func TestRenderEndOfAudioEmittedOnceAfterDrain(t *testing.T) {
	cb, ring := newHarness(t, 64)
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2}}, false)
	dec.Open()
	state := decoderstate.New(dec, 1, nil)
	state.SetFlag(decoder.FlagDecodingStarted)
	decodeAllInto(t, ring, state, 8)
	cb.PublishNext(state)

	out := outBuf(8)
	cb.Render(0, 8, out)

	count := 0
	for {
		ev, ok := cb.events.Pop()
		if !ok {
			break
		}
		if ev.Kind == eventqueue.KindEndOfAudio {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("EndOfAudio emitted %d times, want 1", count)
	}

	cb.Render(0, 8, out)
	for {
		ev, ok := cb.events.Pop()
		if !ok {
			break
		}
		if ev.Kind == eventqueue.KindEndOfAudio {
			t.Fatal("EndOfAudio should not be re-emitted on subsequent silent passes")
		}
	}
}
