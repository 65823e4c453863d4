// Package decoderstate implements the per-decoder bookkeeping described in
// spec.md §4.2: frame counters and a flag word written by the decoding
// goroutine and read concurrently, lock-free, by the realtime render
// callback and by API queries. It generalizes the atomic-counter style of
// pkg/audioplayer/player.go's metrics block and the
// atomic.Pointer[audioframe.AudioFrame] current-frame handoff in
// internal/fileplayer/fileplayer.go into a named, queue-aware type.
package decoderstate

import (
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// State holds everything the engine tracks about one decoder between the
// moment it becomes "current" and the moment both DecodingComplete and
// RenderingComplete have been observed and it is retired through the GC
// channel.
type State struct {
	Decoder    decoder.Decoder
	Sequence   uint64 // assigned monotonically by the engine
	ChannelMap pcmfmt.ChannelMap

	// seekOrigin is the frame offset PositionSnapshot adds to
	// framesRendered, set on open and on every successful seek.
	seekOrigin atomic.Int64

	totalFrames atomic.Int64 // copied from Decoder.FrameLength() at open

	framesDecoded  atomic.Int64
	framesRendered atomic.Int64

	flags atomic.Uint32

	// discard is set by the flush protocol (spec.md §4.3): the render
	// callback, on observing it, advances past this state's buffered
	// frames without outputting them instead of rendering them.
	discard atomic.Bool
}

// New creates a State for d, assigning it sequence number seq. totalFrames
// is read from d.FrameLength() immediately (spec.md: "totalFrames: copied
// from the decoder at open; may be unknown").
func New(d decoder.Decoder, seq uint64, channelMap pcmfmt.ChannelMap) *State {
	s := &State{
		Decoder:    d,
		Sequence:   seq,
		ChannelMap: channelMap,
	}
	s.totalFrames.Store(d.FrameLength())
	return s
}

// SetFlag atomically sets bits in the flag word.
func (s *State) SetFlag(flag decoder.Flag) {
	for {
		old := s.flags.Load()
		next := old | uint32(flag)
		if old == next || s.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// TestFlag reports whether every bit in flag is set.
func (s *State) TestFlag(flag decoder.Flag) bool {
	return s.flags.Load()&uint32(flag) == uint32(flag)
}

// FramesDecoded returns the number of frames the decoding goroutine has
// placed into the ring buffer so far.
func (s *State) FramesDecoded() int64 { return s.framesDecoded.Load() }

// FramesRendered returns the number of frames the render callback has
// consumed from this decoder so far.
func (s *State) FramesRendered() int64 { return s.framesRendered.Load() }

// AddFramesRendered is called only by the realtime render callback.
func (s *State) AddFramesRendered(n int64) {
	s.framesRendered.Add(n)
}

// RefreshTotalFrames re-reads totalFrames from the Decoder, called by the
// decoding goroutine immediately after a successful Open — many codecs only
// know their exact length once the container header has been parsed.
func (s *State) RefreshTotalFrames() {
	s.totalFrames.Store(s.Decoder.FrameLength())
}

// SetSeekOrigin resets the position-accounting origin, called by the
// engine immediately after a successful Decoder.SeekToFrame.
func (s *State) SetSeekOrigin(frame int64) {
	s.seekOrigin.Store(frame)
	s.framesRendered.Store(0)
	s.framesDecoded.Store(0)
}

// MarkDiscard sets the discard marker used by the flush protocol.
func (s *State) MarkDiscard(v bool) { s.discard.Store(v) }

// Discarding reports whether the flush protocol has marked this state's
// buffered frames for silent drop.
func (s *State) Discarding() bool { return s.discard.Load() }

// PositionSnapshot returns a lock-free snapshot suitable for API queries:
// framePosition = seekOrigin + framesRendered; frameLength is whatever was
// captured from the decoder at open (may be pcmfmt.FrameUnknown).
func (s *State) PositionSnapshot() (framePosition, frameLength int64) {
	return s.seekOrigin.Load() + s.framesRendered.Load(), s.totalFrames.Load()
}

// DecodeInto fills scratch from the Decoder, applying the channel map (if
// any) while copying into dst, and accumulates framesDecoded. Called only
// by the decoding goroutine.
func (s *State) DecodeInto(scratch, dst pcmfmt.Buffers, frameCount int) (framesWritten int, endOfStream bool, err error) {
	n, rerr := s.Decoder.ReadAudio(sliceTo(scratch, frameCount))
	if rerr != nil {
		return 0, true, rerr
	}
	if n == 0 {
		return 0, true, nil
	}

	if s.ChannelMap == nil {
		for ch := range dst {
			copy(dst[ch][:n], scratch[ch][:n])
		}
	} else {
		for outCh, inCh := range s.ChannelMap {
			if outCh >= len(dst) || inCh >= len(scratch) {
				continue
			}
			copy(dst[outCh][:n], scratch[inCh][:n])
		}
	}

	s.framesDecoded.Add(int64(n))
	return n, false, nil
}

func sliceTo(b pcmfmt.Buffers, n int) pcmfmt.Buffers {
	out := make(pcmfmt.Buffers, len(b))
	for i := range b {
		out[i] = b[i][:n]
	}
	return out
}
