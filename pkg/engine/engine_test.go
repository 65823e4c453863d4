package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/drgolem/gapless/pkg/decoders/memtest"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// recordingDelegate collects every callback invocation for assertions; a
// mutex guards it since notifyLoop runs on its own goroutine.
type recordingDelegate struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recordingDelegate) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingDelegate) OnDecodingStarted(seq uint64)  { r.record("decodingStarted") }
func (r *recordingDelegate) OnDecodingComplete(seq uint64) { r.record("decodingComplete") }
func (r *recordingDelegate) OnDecodingCanceled(seq uint64, partial bool) {
	r.record("decodingCanceled")
}
func (r *recordingDelegate) OnRenderingWillStart(seq uint64, hostTime int64) {
	r.record("renderingWillStart")
}
func (r *recordingDelegate) OnRenderingStarted(seq uint64)  { r.record("renderingStarted") }
func (r *recordingDelegate) OnRenderingComplete(seq uint64) { r.record("renderingComplete") }
func (r *recordingDelegate) OnEndOfAudio()                  { r.record("endOfAudio") }
func (r *recordingDelegate) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingDelegate) has(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == s {
			return true
		}
	}
	return false
}

func (r *recordingDelegate) count(s string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == s {
			n++
		}
	}
	return n
}

// indexOf returns the position of s's first occurrence in the recorded
// event sequence, or -1 if it never occurred.
func (r *recordingDelegate) indexOf(s string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == s {
			return i
		}
	}
	return -1
}

func testFormat() pcmfmt.Format {
	return pcmfmt.Format{SampleRate: 48000, Channels: 1}
}

func newTestEngine(t *testing.T, delegate Delegate) *Engine {
	t.Helper()
	cfg := DefaultConfig(testFormat())
	cfg.RingBufferCapacityFrames = 64
	cfg.EventQueueCapacity = 32
	cfg.RetireQueueCapacity = 8
	cfg.DecodeChunkFrames = 16
	cfg.Delegate = delegate
	e, err := Create(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

// pumpRender drives the engine's realtime side as if a sink were calling it
// at a fixed chunk size, for exactly maxPasses passes with a one-millisecond
// sleep after each.
func pumpRender(e *Engine, chunk int, maxPasses int) {
	out := pcmfmt.Buffers{make([]float32, chunk)}
	for i := 0; i < maxPasses; i++ {
		e.Render(int64(i), chunk, out)
		time.Sleep(time.Millisecond)
	}
}

func TestEngineSingleShortFile(t *testing.T) {
	delegate := &recordingDelegate{}
	e := newTestEngine(t, delegate)
	e.Play()

	dec := memtest.New(testFormat(), pcmfmt.Buffers{{1, 2, 3, 4, 5}}, true)
	if err := e.Enqueue(dec); err != nil {
		t.Fatal(err)
	}

	pumpRender(e, 8, 50)

	for _, want := range []string{"decodingStarted", "decodingComplete", "renderingWillStart", "renderingStarted", "renderingComplete", "endOfAudio"} {
		if !delegate.has(want) {
			t.Errorf("missing event %q", want)
		}
	}

	// spec.md §4.4: DecodingStarted ≺ RenderingWillStart ≺ RenderingStarted
	// for a single decoder, even though the two events travel on separate
	// channels (decodeEvents vs the realtime SPSC queue) into notifyLoop.
	started := delegate.indexOf("decodingStarted")
	willStart := delegate.indexOf("renderingWillStart")
	renderingStarted := delegate.indexOf("renderingStarted")
	if !(started < willStart && willStart < renderingStarted) {
		t.Errorf("event order violated: decodingStarted=%d renderingWillStart=%d renderingStarted=%d",
			started, willStart, renderingStarted)
	}
}

func TestEngineGaplessTransition(t *testing.T) {
	delegate := &recordingDelegate{}
	e := newTestEngine(t, delegate)
	e.Play()

	decA := memtest.New(testFormat(), pcmfmt.Buffers{{1, 2, 3}}, true)
	decB := memtest.New(testFormat(), pcmfmt.Buffers{{10, 20, 30, 40}}, true)
	if err := e.Enqueue(decA); err != nil {
		t.Fatal(err)
	}
	if err := e.Enqueue(decB); err != nil {
		t.Fatal(err)
	}

	pumpRender(e, 8, 80)

	if delegate.count("renderingComplete") < 2 {
		t.Errorf("expected both decoders to reach renderingComplete, got %d", delegate.count("renderingComplete"))
	}
	if delegate.count("endOfAudio") != 1 {
		t.Errorf("endOfAudio count: got %d, want 1", delegate.count("endOfAudio"))
	}
}

func TestEngineCancelMidStream(t *testing.T) {
	delegate := &recordingDelegate{}
	e := newTestEngine(t, delegate)
	e.Play()

	dec := memtest.New(testFormat(), pcmfmt.Buffers{make([]float32, 4096)}, true)
	if err := e.Enqueue(dec); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	e.CancelCurrentDecoder()

	pumpRender(e, 8, 80)

	if !delegate.has("decodingCanceled") {
		t.Error("expected decodingCanceled event after CancelCurrentDecoder")
	}
	// spec.md §4.4/§8: DecodingCanceled replaces the rendering pair — a
	// canceled decoder must retire without ever delivering RenderingComplete.
	if delegate.has("renderingComplete") {
		t.Error("canceled decoder must not emit renderingComplete")
	}
}

func TestEngineSeek(t *testing.T) {
	delegate := &recordingDelegate{}
	e := newTestEngine(t, delegate)
	e.Play()

	samples := make([]float32, 200)
	for i := range samples {
		samples[i] = float32(i)
	}
	dec := memtest.New(testFormat(), pcmfmt.Buffers{samples}, true)
	if err := e.Enqueue(dec); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	pumpRender(e, 8, 5)

	if err := e.SeekToFrame(100); err != nil {
		t.Fatalf("seek failed: %v", err)
	}

	pumpRender(e, 8, 20)

	pos := e.PlaybackPosition()
	if pos < 100 {
		t.Errorf("PlaybackPosition after seek: got %d, want >= 100", pos)
	}
}

func TestEngineUnderflow(t *testing.T) {
	delegate := &recordingDelegate{}
	e := newTestEngine(t, delegate)
	e.Play()

	dec := memtest.New(testFormat(), pcmfmt.Buffers{{1, 2, 3, 4, 5, 6, 7, 8}}, true)
	dec.MaxFramesPerCall = 1
	if err := e.Enqueue(dec); err != nil {
		t.Fatal(err)
	}

	pumpRender(e, 8, 200)

	if !delegate.has("renderingComplete") {
		t.Error("expected eventual renderingComplete despite slow chunked decoding")
	}
}

func TestEngineFormatMismatchRejected(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Play()

	wrongFormat := pcmfmt.Format{SampleRate: 44100, Channels: 2}
	dec := memtest.New(wrongFormat, pcmfmt.Buffers{{1, 2}, {1, 2}}, true)

	err := e.Enqueue(dec)
	if err != pcmfmt.ErrFormatNotSupported {
		t.Fatalf("got %v, want ErrFormatNotSupported", err)
	}
}

func TestEngineStopClearsQueueAndPauses(t *testing.T) {
	delegate := &recordingDelegate{}
	e := newTestEngine(t, delegate)
	e.Play()

	dec := memtest.New(testFormat(), pcmfmt.Buffers{make([]float32, 4096)}, true)
	if err := e.Enqueue(dec); err != nil {
		t.Fatal(err)
	}
	if err := e.Enqueue(memtest.New(testFormat(), pcmfmt.Buffers{{1, 2, 3}}, true)); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	e.Stop()

	if !e.render.Paused() {
		t.Error("Stop should leave the engine paused")
	}
	if e.queue.PendingLen() != 0 {
		t.Errorf("Stop should clear the pending queue, got %d pending", e.queue.PendingLen())
	}
}
