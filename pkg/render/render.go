// Package render implements the realtime consumer of spec.md §4.4: it
// reads frames out of the ring buffer and hands them to the sink, with no
// locks, allocations, or system calls on the hot path. It is the direct
// generalization of internal/fileplayer/fileplayer.go's audioCallback
// (which only ever tracked a single decoder via an
// atomic.Pointer[audioframe.AudioFrame]) to the queue-aware, multi-decoder
// gapless case: here the atomic handoff is one level up, at the
// DecoderState granularity, and a second decoder can be attributed frames
// within the same call when a gapless boundary falls mid-buffer.
package render

import (
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/eventqueue"
	"github.com/drgolem/gapless/pkg/pcmfmt"
	"github.com/drgolem/gapless/pkg/ringbuf"
)

// Callback is the realtime render consumer. One Callback is created per
// Engine and its Render method is the function ultimately adapted to a
// concrete sink (internal/hostsink.PortAudioSink wraps it for
// portaudio.PaStream.OpenCallback).
type Callback struct {
	ring *ringbuf.RingBuffer

	current atomic.Pointer[decoderstate.State]

	// nextCh is the decode-thread -> render-thread handoff for the
	// decoder that should become current once the outgoing one (if any)
	// finishes. Capacity 1: the decode thread's send blocks until the
	// render side has promoted the previous successor, which is exactly
	// the backpressure needed to avoid ever dropping a decoder in a
	// chain of very short gapless transitions. The decode thread is not
	// realtime-constrained, so blocking here is safe; Render itself only
	// ever does a non-blocking receive.
	nextCh chan *decoderstate.State

	paused atomic.Bool

	events     *eventqueue.Queue
	eventsWake chan struct{} // capacity 1, pinged after a Push

	wakeDecoder chan struct{} // capacity 1, pinged after frames are consumed

	// retire receives a DecoderState the instant its RenderingComplete
	// flag is set, which is exactly when spec.md §9's retire-through-
	// channel pattern says the GC worker may call Decoder.Close. Sized
	// with headroom by the caller (pkg/engine); send is non-blocking,
	// since one decoder boundary is vastly rarer than one render pass.
	retire chan *decoderstate.State

	endOfAudioEmitted atomic.Bool

	// view is a reusable offset-view buffer so sliceFrom never allocates
	// on the realtime path; it grows once to match the sink's channel
	// count and is never touched by any other goroutine.
	view pcmfmt.Buffers
}

// New builds a Callback over ring, publishing realtime-originated events
// into events (woken via eventsWake) and signaling the decoding goroutine
// for more work via wakeDecoder, and handing finished states to retire.
// These channels and the queue are owned by
// the caller (pkg/engine) and shared across the Callback's lifetime.
func New(ring *ringbuf.RingBuffer, events *eventqueue.Queue, eventsWake, wakeDecoder chan struct{}, retire chan *decoderstate.State) *Callback {
	return &Callback{
		ring:        ring,
		nextCh:      make(chan *decoderstate.State, 1),
		events:      events,
		eventsWake:  eventsWake,
		wakeDecoder: wakeDecoder,
		retire:      retire,
	}
}

func (c *Callback) retireState(state *decoderstate.State) {
	select {
	case c.retire <- state:
	default:
	}
}

// SetPaused flips the paused flag. Safe to call from any goroutine.
func (c *Callback) SetPaused(paused bool) {
	c.paused.Store(paused)
}

// Paused reports the current paused flag.
func (c *Callback) Paused() bool { return c.paused.Load() }

// PublishNext hands state to the render side as the successor of whatever
// is currently playing (or, if nothing is currently playing, as the next
// thing to promote to current). Called only by the decoding goroutine;
// may block until the render side has drained a previous successor.
func (c *Callback) PublishNext(state *decoderstate.State) {
	c.nextCh <- state
}

// Current returns the DecoderState the render callback is consuming from,
// or nil. Lock-free; safe to call from any goroutine (API position
// queries use this).
func (c *Callback) Current() *decoderstate.State {
	return c.current.Load()
}

// signalDecoder performs the non-blocking "at most once per render pass"
// wakeup of spec.md §5.
func (c *Callback) signalDecoder() {
	select {
	case c.wakeDecoder <- struct{}{}:
	default:
	}
}

func (c *Callback) pushEvent(ev eventqueue.Event) {
	// Overflow is a programmer error per spec.md §4.4; the realtime path
	// cannot do anything about it beyond dropping, since it must never
	// block or allocate to recover.
	_ = c.events.Push(ev)
	select {
	case c.eventsWake <- struct{}{}:
	default:
	}
}

// promote tries to move a pending successor into current. Returns the new
// current (possibly nil if none was waiting).
func (c *Callback) promote(hostTime int64) *decoderstate.State {
	var nxt *decoderstate.State
	select {
	case nxt = <-c.nextCh:
	default:
		return nil
	}

	c.current.Store(nxt)

	// A decoder that reached DecodingComplete with zero frames decoded
	// (spec.md §8: "FrameLength == 0") never has any audio reach the
	// sink, so it never starts rendering — spec.md's boundary scenario
	// explicitly excludes RenderingStarted for this case. We also skip
	// RenderingWillStart, since that event promises "delivered before any
	// frame of the decoder reaches the sink" and no frame ever will.
	if nxt.TestFlag(decoder.FlagDecodingComplete) && nxt.FramesDecoded() == 0 {
		if !nxt.TestFlag(decoder.FlagRenderingComplete) {
			nxt.SetFlag(decoder.FlagRenderingComplete)
			// DecodingCanceled replaces the rendering pair (spec.md §4.4):
			// a decoder canceled before producing any frames still needs
			// retiring, but must not report a RenderingComplete that never
			// meaningfully started.
			if !nxt.TestFlag(decoder.FlagDecodingCanceled) {
				c.pushEvent(eventqueue.Event{Kind: eventqueue.KindRenderingComplete, DecoderSeq: nxt.Sequence, HostTime: hostTime})
			}
			c.retireState(nxt)
		}
		return nxt
	}

	c.pushEvent(eventqueue.Event{Kind: eventqueue.KindRenderingWillStart, DecoderSeq: nxt.Sequence, HostTime: hostTime})
	c.endOfAudioEmitted.Store(false)
	return nxt
}

func silence(out pcmfmt.Buffers, frameCount int) {
	for ch := range out {
		buf := out[ch][:frameCount]
		for i := range buf {
			buf[i] = 0
		}
	}
}

// Render implements spec.md §4.4's per-invocation algorithm. It always
// returns exactly frameCount frames (audio or silence) and never blocks,
// allocates, or acquires a mutex.
func (c *Callback) Render(hostTime int64, frameCount int, out pcmfmt.Buffers) int {
	cur := c.current.Load()
	if cur == nil {
		if promoted := c.promote(hostTime); promoted != nil {
			cur = promoted
			// A zero-length decoder promoted above is already complete;
			// fall through to try promoting its successor immediately so
			// a run of empty decoders doesn't each cost a silent pass.
			for cur != nil && cur.TestFlag(decoder.FlagRenderingComplete) {
				c.current.Store(nil)
				cur = c.promote(hostTime)
			}
		}
	}

	if cur == nil {
		silence(out, frameCount)
		return frameCount
	}

	if c.paused.Load() {
		silence(out, frameCount)
		return frameCount
	}

	// outPos tracks how much of out has been filled with real audio so
	// far; everything from outPos to frameCount is silence unless a
	// later iteration writes it. Attribution of ring contents to a
	// decoder relies entirely on the FramesDecoded/FramesRendered
	// counters, not on any tag stored in the ring itself: because the
	// decode thread only ever writes a successor's frames immediately
	// after its predecessor's last frame, the ring's FIFO order alone
	// tells us where one decoder's region ends and the next begins.
	outPos := 0
	for outPos < frameCount && cur != nil {
		availForCur := cur.FramesDecoded() - cur.FramesRendered()
		want := frameCount - outPos
		take := int64(want)
		if take > availForCur {
			take = availForCur
		}
		if avail := int64(c.ring.FramesAvailableToRead()); take > avail {
			take = avail
		}
		if take <= 0 {
			// Nothing of this decoder is buffered right now. While it is
			// still decoding (or has frames not yet in the ring) this is
			// underflow and nothing more is attributed to it this pass.
			// Once decoding is complete and every decoded frame has been
			// rendered, fall through to the completion handling below.
			if availForCur > 0 || !cur.TestFlag(decoder.FlagDecodingComplete) {
				break
			}
		}

		if cur.Discarding() {
			// Flush protocol (spec.md §4.3): drop this decoder's
			// buffered frames from the ring without copying them into
			// out, which stays silent for this span.
			dropped := c.ring.Skip(int(take))
			cur.AddFramesRendered(int64(dropped))
			if int64(dropped) < take {
				break
			}
		} else {
			n := c.ring.Read(c.sliceFrom(out, outPos), int(take))
			if n > 0 {
				wasIdle := cur.FramesRendered() == 0
				cur.AddFramesRendered(int64(n))
				if wasIdle && !cur.TestFlag(decoder.FlagRenderingStarted) {
					cur.SetFlag(decoder.FlagRenderingStarted)
					c.pushEvent(eventqueue.Event{Kind: eventqueue.KindRenderingStarted, DecoderSeq: cur.Sequence, HostTime: hostTime})
				}
				outPos += n
			}
			if int64(n) < take {
				break
			}
		}

		if cur.FramesRendered() != cur.FramesDecoded() || !cur.TestFlag(decoder.FlagDecodingComplete) {
			break
		}

		if !cur.TestFlag(decoder.FlagRenderingComplete) {
			cur.SetFlag(decoder.FlagRenderingComplete)
			// DecodingCanceled replaces the rendering pair (spec.md §4.4):
			// the state still has to reach RenderingComplete internally so
			// it can retire through the GC channel, but a canceled decoder
			// must not deliver a RenderingComplete event to the delegate.
			if !cur.TestFlag(decoder.FlagDecodingCanceled) {
				c.pushEvent(eventqueue.Event{Kind: eventqueue.KindRenderingComplete, DecoderSeq: cur.Sequence, HostTime: hostTime})
			}
			c.retireState(cur)
		}

		next := c.promote(hostTime)
		c.current.Store(next)
		cur = next
	}

	if outPos < frameCount {
		silenceRange(out, outPos, frameCount-outPos)
	}

	if cur == nil && !c.endOfAudioEmitted.Load() {
		select {
		case peek := <-c.nextCh:
			// Something arrived just now; put it back for the next pass
			// and don't declare end-of-audio.
			c.nextCh <- peek
		default:
			if c.endOfAudioEmitted.CompareAndSwap(false, true) {
				c.pushEvent(eventqueue.Event{Kind: eventqueue.KindEndOfAudio, HostTime: hostTime})
			}
		}
	}

	c.signalDecoder()
	return frameCount
}

// sliceFrom returns a view of out starting at frame offset start, for
// passing to ringbuf.RingBuffer.Read, which always writes at index 0 of
// each channel slice it's given. Reuses c.view so the hot path never
// allocates.
func (c *Callback) sliceFrom(out pcmfmt.Buffers, start int) pcmfmt.Buffers {
	if len(c.view) != len(out) {
		c.view = make(pcmfmt.Buffers, len(out))
	}
	for ch := range out {
		c.view[ch] = out[ch][start:]
	}
	return c.view
}

func silenceRange(out pcmfmt.Buffers, start, n int) {
	if n <= 0 {
		return
	}
	for ch := range out {
		buf := out[ch][start : start+n]
		for i := range buf {
			buf[i] = 0
		}
	}
}
