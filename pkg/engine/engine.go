// Package engine implements spec.md §4.5: the supervisor that owns the
// ring buffer, the decoder queue, the decoding goroutine, and the
// notification and garbage-collection workers, and exposes the public
// transport API. It generalizes the producer/consumer goroutine
// choreography of pkg/audioplayer.Player (stopChan + sync.WaitGroup,
// slog-based lifecycle logging, a Config/DefaultConfig pair) from a single
// decoder to the gapless, queue-driven, multi-decoder case.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/decoderqueue"
	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/eventqueue"
	"github.com/drgolem/gapless/pkg/pcmfmt"
	"github.com/drgolem/gapless/pkg/render"
	"github.com/drgolem/gapless/pkg/ringbuf"
)

// ErrNotSeekable is returned by the Seek family when the current decoder
// does not support seeking.
var ErrNotSeekable = errors.New("engine: current decoder does not support seeking")

// ErrNoCurrentDecoder is returned by the Seek family when nothing is
// currently being decoded.
var ErrNoCurrentDecoder = errors.New("engine: no current decoder")

// ErrShuttingDown is returned by in-flight API calls that lose the race
// against Shutdown.
var ErrShuttingDown = errors.New("engine: shutting down")

// Delegate receives the eight lifecycle notifications of spec.md §3/§6, all
// delivered FIFO on the notification worker. A decoder is identified by
// the sequence number assigned to it at Enqueue, matching
// decoderstate.State.Sequence.
type Delegate interface {
	OnDecodingStarted(seq uint64)
	OnDecodingComplete(seq uint64)
	OnDecodingCanceled(seq uint64, partiallyRendered bool)
	OnRenderingWillStart(seq uint64, hostTime int64)
	OnRenderingStarted(seq uint64)
	OnRenderingComplete(seq uint64)
	OnEndOfAudio()
	OnError(err error)
}

// Config holds engine configuration (spec.md §4.5 Create).
type Config struct {
	// Format is the engine's fixed rendering format; every enqueued
	// decoder must match it exactly or be rejected.
	Format pcmfmt.Format

	// RingBufferCapacityFrames is rounded up to the next power of two by
	// ringbuf.Allocate. Defaults to 16384 if <= 0.
	RingBufferCapacityFrames int

	// EventQueueCapacity sizes the realtime SPSC event queue and the
	// decode-thread notification channel. Defaults to 256 if <= 0.
	EventQueueCapacity int

	// RetireQueueCapacity sizes the GC handoff channel. Defaults to 64
	// if <= 0; one send happens per decoder lifecycle, not per frame.
	RetireQueueCapacity int

	// DecodeChunkFrames is how many frames the decoding goroutine asks
	// the current Decoder for per ReadAudio call. Defaults to 4096.
	DecodeChunkFrames int

	Delegate Delegate
}

// DefaultConfig returns a Config with every size defaulted, for the given
// rendering format.
func DefaultConfig(format pcmfmt.Format) Config {
	return Config{
		Format:                   format,
		RingBufferCapacityFrames: 16384,
		EventQueueCapacity:       256,
		RetireQueueCapacity:      64,
		DecodeChunkFrames:        4096,
	}
}

type decodeNotification struct {
	kind              eventqueue.Kind
	seq               uint64
	partiallyRendered bool
	err               error
}

type seekRequest struct {
	frame int64
	done  chan error
}

// Engine is the gapless player supervisor.
type Engine struct {
	format pcmfmt.Format

	ring   *ringbuf.RingBuffer
	queue  *decoderqueue.Queue
	render *render.Callback

	delegate Delegate

	seq atomic.Uint64

	events       *eventqueue.Queue
	eventsWake   chan struct{}
	decodeEvents chan decodeNotification

	renderWake chan struct{}
	wakeCh     chan struct{}
	seekCh     chan seekRequest
	gcCh       chan *decoderstate.State
	stopCh     chan struct{}

	decodeChunkFrames int
	scratch, dst      pcmfmt.Buffers

	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Create allocates the ring buffer, wires the render callback, and starts
// the decoding, notification, and GC goroutines (all parked, waiting for
// work).
func Create(cfg Config) (*Engine, error) {
	capacity := cfg.RingBufferCapacityFrames
	if capacity <= 0 {
		capacity = 16384
	}
	ring, err := ringbuf.Allocate(cfg.Format, capacity)
	if err != nil {
		return nil, err
	}

	eventQueueCapacity := cfg.EventQueueCapacity
	if eventQueueCapacity <= 0 {
		eventQueueCapacity = 256
	}
	retireCapacity := cfg.RetireQueueCapacity
	if retireCapacity <= 0 {
		retireCapacity = 64
	}
	chunk := cfg.DecodeChunkFrames
	if chunk <= 0 {
		chunk = 4096
	}

	scratch := make(pcmfmt.Buffers, cfg.Format.Channels)
	dst := make(pcmfmt.Buffers, cfg.Format.Channels)
	for i := range scratch {
		scratch[i] = make([]float32, chunk)
		dst[i] = make([]float32, chunk)
	}

	e := &Engine{
		format:            cfg.Format,
		ring:              ring,
		queue:             decoderqueue.New(),
		delegate:          cfg.Delegate,
		events:            eventqueue.New(eventQueueCapacity),
		eventsWake:        make(chan struct{}, 1),
		decodeEvents:      make(chan decodeNotification, eventQueueCapacity),
		renderWake:        make(chan struct{}, 1),
		wakeCh:            make(chan struct{}, 1),
		seekCh:            make(chan seekRequest),
		gcCh:              make(chan *decoderstate.State, retireCapacity),
		stopCh:            make(chan struct{}),
		decodeChunkFrames: chunk,
		scratch:           scratch,
		dst:               dst,
	}
	e.render = render.New(ring, e.events, e.eventsWake, e.renderWake, e.gcCh)

	e.wg.Add(3)
	go e.decodeLoop()
	go e.notifyLoop()
	go e.gcLoop()

	slog.Info("engine created",
		"sample_rate", cfg.Format.SampleRate,
		"channels", cfg.Format.Channels,
		"ring_capacity_frames", ring.Capacity())

	return e, nil
}

// Render is the sink-facing realtime callback (spec.md §6 "Sink
// interface"): it always returns exactly frameCount frames of audio or
// silence and never blocks, allocates, or locks.
func (e *Engine) Render(hostTime int64, frameCount int, out pcmfmt.Buffers) int {
	return e.render.Render(hostTime, frameCount, out)
}

// Enqueue appends d to the pending sequence with an identity channel map.
func (e *Engine) Enqueue(d decoder.Decoder) error {
	return e.EnqueueWithChannelMap(d, nil)
}

// EnqueueWithChannelMap appends d to the pending sequence, permuting its
// channels through channelMap while decoding. Rejects d synchronously with
// pcmfmt.ErrFormatNotSupported if its format does not match the engine's.
func (e *Engine) EnqueueWithChannelMap(d decoder.Decoder, channelMap pcmfmt.ChannelMap) error {
	if !d.Format().Equal(e.format) {
		return pcmfmt.ErrFormatNotSupported
	}
	seq := e.seq.Add(1)
	state := decoderstate.New(d, seq, channelMap)
	e.queue.Enqueue(state)
	e.wakeDecodeLoop()
	return nil
}

// Play resumes rendering and wakes the decoding goroutine in case it has
// pending work.
func (e *Engine) Play() {
	e.render.SetPaused(false)
	e.wakeDecodeLoop()
}

// Pause freezes rendering; framesRendered on the current decoder does not
// advance until Play.
func (e *Engine) Pause() {
	e.render.SetPaused(true)
}

// TogglePlayPause flips the paused flag.
func (e *Engine) TogglePlayPause() {
	if e.render.Paused() {
		e.Play()
	} else {
		e.Pause()
	}
}

// Stop cancels the current decoder, empties the pending sequence, and
// pauses. Buffered frames belonging to the canceled decoder are dropped by
// the render callback's flush protocol rather than by directly resetting
// the ring buffer from this (non-decode, non-render) goroutine, since
// ringbuf.RingBuffer.Reset is documented not safe to call while either
// side might still be active.
func (e *Engine) Stop() {
	e.CancelCurrentDecoder()
	e.queue.Clear()
	e.Pause()
}

// CancelCurrentDecoder asynchronously abandons the decoder currently being
// fed into the ring buffer. The decoding goroutine stops writing further
// frames for it; the render callback discards whatever of its frames are
// still buffered without outputting them.
func (e *Engine) CancelCurrentDecoder() {
	cur := e.queue.Current()
	if cur == nil {
		return
	}
	cur.SetFlag(decoder.FlagDecodingCanceled)
	cur.MarkDiscard(true)
	e.wakeDecodeLoop()
}

// ClearQueue empties the pending sequence without touching whatever is
// currently decoding.
func (e *Engine) ClearQueue() {
	e.queue.Clear()
}

// PlaybackPosition returns the frame position of whatever the render
// callback is actually consuming, or 0 if nothing is current.
func (e *Engine) PlaybackPosition() int64 {
	cur := e.render.Current()
	if cur == nil {
		return 0
	}
	pos, _ := cur.PositionSnapshot()
	return pos
}

// PlaybackTime converts PlaybackPosition to a duration using the engine's
// rendering sample rate.
func (e *Engine) PlaybackTime() time.Duration {
	if e.format.SampleRate <= 0 {
		return 0
	}
	frames := e.PlaybackPosition()
	return time.Duration(frames) * time.Second / time.Duration(e.format.SampleRate)
}

func (e *Engine) framesFor(d time.Duration) int64 {
	return int64(d.Seconds() * float64(e.format.SampleRate))
}

// SeekToFrame repositions the current decoder to an absolute frame offset,
// per the flush protocol of spec.md §4.3: mark discard, wait for the
// render side to drain this decoder's buffered frames, reset the ring,
// reposition the decoder, and reset position accounting against the new
// origin.
func (e *Engine) SeekToFrame(frame int64) error {
	cur := e.queue.Current()
	if cur == nil {
		return ErrNoCurrentDecoder
	}
	if !cur.Decoder.SupportsSeeking() {
		return ErrNotSeekable
	}

	req := seekRequest{frame: frame, done: make(chan error, 1)}
	select {
	case e.seekCh <- req:
	case <-e.stopCh:
		return ErrShuttingDown
	}
	return <-req.done
}

// SeekToPosition is a synonym for SeekToFrame.
func (e *Engine) SeekToPosition(frame int64) error {
	return e.SeekToFrame(frame)
}

// SeekToTime converts t to a frame offset using the engine's rendering
// sample rate and seeks there.
func (e *Engine) SeekToTime(t time.Duration) error {
	return e.SeekToFrame(e.framesFor(t))
}

// SeekForward seeks d forward of the current playback position.
func (e *Engine) SeekForward(d time.Duration) error {
	return e.SeekToFrame(e.PlaybackPosition() + e.framesFor(d))
}

// SeekBackward seeks d backward of the current playback position, clamped
// to frame 0.
func (e *Engine) SeekBackward(d time.Duration) error {
	target := e.PlaybackPosition() - e.framesFor(d)
	if target < 0 {
		target = 0
	}
	return e.SeekToFrame(target)
}

// Shutdown stops the decoding, notification, and GC goroutines, draining
// any already-queued notifications, and returns once all three have
// exited. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		slog.Info("engine shut down")
	})
}

func (e *Engine) wakeDecodeLoop() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *Engine) pushDecodeNotification(n decodeNotification) {
	select {
	case e.decodeEvents <- n:
	case <-e.stopCh:
	}
}

// decodeLoop is the decoding goroutine's state machine (spec.md §4.3):
// Idle while state is nil, otherwise running state to completion and
// chaining immediately into whatever PopNext returns next, without
// returning to Idle, for the gapless property.
func (e *Engine) decodeLoop() {
	defer e.wg.Done()
	var state *decoderstate.State
	for {
		if state == nil {
			state = e.queue.PopNext()
		}
		if state == nil {
			select {
			case <-e.stopCh:
				return
			case <-e.wakeCh:
				continue
			}
		}

		select {
		case <-e.stopCh:
			return
		default:
		}

		state = e.runDecoder(state)
	}
}

// runDecoder opens state's Decoder, pumps its audio into the ring buffer
// until end-of-stream, cancellation, or shutdown, and returns the next
// pending DecoderState (if any) to continue the gapless chain.
func (e *Engine) runDecoder(state *decoderstate.State) *decoderstate.State {
	e.queue.SetCurrent(state)

	if err := state.Decoder.Open(); err != nil {
		e.pushDecodeNotification(decodeNotification{kind: eventqueue.KindError, seq: state.Sequence, err: err})
		state.SetFlag(decoder.FlagDecodingComplete)
		e.pushDecodeNotification(decodeNotification{kind: eventqueue.KindDecodingComplete, seq: state.Sequence})
		e.render.PublishNext(state)
		return e.queue.PopNext()
	}

	state.RefreshTotalFrames()
	state.SetFlag(decoder.FlagDecodingStarted)
	e.pushDecodeNotification(decodeNotification{kind: eventqueue.KindDecodingStarted, seq: state.Sequence})
	e.render.PublishNext(state)

	for {
		select {
		case <-e.stopCh:
			return nil
		case req := <-e.seekCh:
			e.handleSeek(state, req)
			continue
		default:
		}

		if state.TestFlag(decoder.FlagDecodingCanceled) {
			break
		}

		n, eos, err := state.DecodeInto(e.scratch, e.dst, e.decodeChunkFrames)
		if err != nil {
			e.pushDecodeNotification(decodeNotification{kind: eventqueue.KindError, seq: state.Sequence, err: err})
			eos = true
		}

		if n > 0 {
			if !e.writeToRing(e.dst, n) {
				return nil
			}
		}

		if eos {
			break
		}
	}

	state.SetFlag(decoder.FlagDecodingComplete)
	if state.TestFlag(decoder.FlagDecodingCanceled) {
		e.pushDecodeNotification(decodeNotification{
			kind:              eventqueue.KindDecodingCanceled,
			seq:               state.Sequence,
			partiallyRendered: state.FramesRendered() > 0,
		})
	} else {
		e.pushDecodeNotification(decodeNotification{kind: eventqueue.KindDecodingComplete, seq: state.Sequence})
	}

	return e.queue.PopNext()
}

// handleSeek implements the flush-protocol side of Seek* (spec.md §4.5
// step sequence): mark discard, wait for the render side to have consumed
// every frame already decoded for state, reset the ring (safe now that
// both sides are quiesced on this decoder), reposition, and reset
// accounting against the new seek origin.
func (e *Engine) handleSeek(state *decoderstate.State, req seekRequest) {
	state.MarkDiscard(true)
	for state.FramesRendered() < state.FramesDecoded() {
		select {
		case <-e.renderWake:
		case <-e.stopCh:
			req.done <- ErrShuttingDown
			return
		}
	}

	e.ring.Reset()
	err := state.Decoder.SeekToFrame(req.frame)
	if err == nil {
		state.SetSeekOrigin(req.frame)
	}
	state.MarkDiscard(false)
	req.done <- err
}

// writeToRing copies buf[:n] into the ring buffer, parking on renderWake
// between partial writes when the ring is full. Returns false if shutdown
// was requested before the full write completed.
func (e *Engine) writeToRing(buf pcmfmt.Buffers, n int) bool {
	written := 0
	for written < n {
		w := e.ring.Write(sliceView(buf, written), n-written)
		written += w
		if written >= n {
			return true
		}
		select {
		case <-e.renderWake:
		case <-e.stopCh:
			return false
		}
	}
	return true
}

func sliceView(buf pcmfmt.Buffers, offset int) pcmfmt.Buffers {
	view := make(pcmfmt.Buffers, len(buf))
	for ch := range buf {
		view[ch] = buf[ch][offset:]
	}
	return view
}

// notifyLoop is the background notification worker of spec.md §4.5: it
// merges the decoding goroutine's ordinary notification channel with the
// realtime render callback's lock-free SPSC event queue and dispatches
// delegate calls FIFO. The two sources are drained independently because
// only one producer may ever write to the SPSC queue (the render
// callback); the decoding goroutine, which is free to block, uses a plain
// buffered channel instead.
//
// A bare select over both sources is not enough to keep per-decoder order
// intact: runDecoder always sends a decoder's DecodingStarted notification
// strictly before calling PublishNext, and the render side only pushes
// RenderingWillStart after promoting that same state off nextCh, so the
// decodeEvents send always happens-before the corresponding eventsWake
// signal — but if both channels are simultaneously ready, select picks
// between them pseudo-randomly, so a RenderingWillStart can still be
// dispatched ahead of the DecodingStarted it depends on. drainRenderEvents
// corrects this by re-draining decodeEvents, non-blockingly, immediately
// before every single render-event dispatch: by the time notifyLoop has
// received the eventsWake signal (or is looping after dispatching one
// render event), the happens-before chain above guarantees any
// not-yet-dispatched decodeEvents item it depends on is already sitting in
// the channel buffer, so the drain always catches it first.
func (e *Engine) notifyLoop() {
	defer e.wg.Done()
	for {
		select {
		case n := <-e.decodeEvents:
			e.dispatchDecode(n)
		case <-e.eventsWake:
			e.drainRenderEvents()
		case <-e.stopCh:
			e.drainRenderEvents()
			return
		}
	}
}

// drainRenderEvents pops every currently queued render event, checking for
// (and dispatching) any decode-origin notification that raced ahead of it
// before each single dispatch, preserving the partial order of spec.md
// §4.4/§8 across the two channels. Also used on shutdown to flush
// everything pending on both channels before notifyLoop exits.
func (e *Engine) drainRenderEvents() {
	for {
		select {
		case n := <-e.decodeEvents:
			e.dispatchDecode(n)
			continue
		default:
		}

		ev, ok := e.events.Pop()
		if !ok {
			return
		}
		e.dispatchRender(ev)
	}
}

func (e *Engine) dispatchDecode(n decodeNotification) {
	if e.delegate == nil {
		return
	}
	switch n.kind {
	case eventqueue.KindDecodingStarted:
		e.delegate.OnDecodingStarted(n.seq)
	case eventqueue.KindDecodingComplete:
		e.delegate.OnDecodingComplete(n.seq)
	case eventqueue.KindDecodingCanceled:
		e.delegate.OnDecodingCanceled(n.seq, n.partiallyRendered)
	case eventqueue.KindError:
		e.delegate.OnError(n.err)
	}
}

func (e *Engine) dispatchRender(ev eventqueue.Event) {
	if e.delegate == nil {
		return
	}
	switch ev.Kind {
	case eventqueue.KindRenderingWillStart:
		e.delegate.OnRenderingWillStart(ev.DecoderSeq, ev.HostTime)
	case eventqueue.KindRenderingStarted:
		e.delegate.OnRenderingStarted(ev.DecoderSeq)
	case eventqueue.KindRenderingComplete:
		e.delegate.OnRenderingComplete(ev.DecoderSeq)
	case eventqueue.KindEndOfAudio:
		e.delegate.OnEndOfAudio()
	}
}

// gcLoop is the GC worker of spec.md §4.5/§9: it frees retired
// DecoderStates (by closing their Decoder) off the realtime and decoding
// threads, draining best-effort on shutdown.
func (e *Engine) gcLoop() {
	defer e.wg.Done()
	for {
		select {
		case state := <-e.gcCh:
			e.closeDecoder(state)
		case <-e.stopCh:
			for {
				select {
				case state := <-e.gcCh:
					e.closeDecoder(state)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) closeDecoder(state *decoderstate.State) {
	if err := state.Decoder.Close(); err != nil {
		slog.Warn("failed to close decoder", "seq", state.Sequence, "error", err)
	}
}
