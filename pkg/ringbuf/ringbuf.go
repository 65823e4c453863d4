// Package ringbuf implements the lock-free single-producer/single-consumer
// circular buffer of non-interleaved PCM frames described in spec.md §4.1.
// It generalizes the power-of-two/atomic-cursor design of
// pkg/ringbuffer.RingBuffer (one flat byte slice) and
// pkg/audioframeringbuffer.AudioFrameRingBuffer (one slice of frame
// structs) to Channels independent float32 backing arrays sharing a single
// pair of cursors — the shape spec.md calls for: "per-channel backing
// storage, a write cursor and a read cursor".
package ringbuf

import (
	"errors"
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// ErrAllocFailed is returned by Allocate on invalid parameters (the only
// failure mode of the core — see spec.md §4.1 "Failure semantics").
var ErrAllocFailed = errors.New("ringbuf: invalid allocation parameters")

// RingBuffer is a lock-free SPSC circular buffer of audio frames in a
// fixed non-interleaved float32 layout. Exactly one producer goroutine may
// call Write; exactly one consumer goroutine may call Read. Violating that
// contract is undefined behavior, per spec.md §4.1 — it is not defended
// against.
type RingBuffer struct {
	format   pcmfmt.Format
	channels [][]float32 // one backing slice per channel, length == capacity
	capacity uint64      // power of two
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

// Allocate rounds requestedCapacityFrames up to the next power of two and
// allocates one backing region per channel. Not thread-safe: call before
// the producer and consumer goroutines start.
func Allocate(format pcmfmt.Format, requestedCapacityFrames int) (*RingBuffer, error) {
	if format.Channels <= 0 || format.SampleRate <= 0 || requestedCapacityFrames <= 0 {
		return nil, ErrAllocFailed
	}

	capacity := nextPowerOf2(uint64(requestedCapacityFrames))
	channels := make([][]float32, format.Channels)
	for i := range channels {
		channels[i] = make([]float32, capacity)
	}

	return &RingBuffer{
		format:   format,
		channels: channels,
		capacity: capacity,
		mask:     capacity - 1,
	}, nil
}

// Format returns the buffer's fixed rendering format.
func (rb *RingBuffer) Format() pcmfmt.Format { return rb.format }

// Capacity returns the allocated size in frames (power of two).
func (rb *RingBuffer) Capacity() uint64 { return rb.capacity }

// Reset zeroes the cursors. Not thread-safe: call only when neither the
// producer nor the consumer goroutine is active, e.g. after a flush.
func (rb *RingBuffer) Reset() {
	rb.readPos.Store(0)
	rb.writePos.Store(0)
}

// FramesAvailableToRead returns a lower bound on the number of frames a
// consumer could read right now.
func (rb *RingBuffer) FramesAvailableToRead() uint64 {
	write := rb.writePos.Load()
	read := rb.readPos.Load()
	return write - read
}

// FramesAvailableToWrite returns a lower bound on the number of frames a
// producer could write right now. One slot is reserved to disambiguate
// full from empty, so capacity-1 is the maximum ever stored.
func (rb *RingBuffer) FramesAvailableToWrite() uint64 {
	return (rb.capacity - 1) - rb.FramesAvailableToRead()
}

// Write copies up to min(frameCount, FramesAvailableToWrite()) frames from
// src (one slice per channel, each at least frameCount long) into the
// buffer, wrapping at the capacity boundary in up to two contiguous copies
// per channel. Producer-only. The write cursor advances only after every
// channel's payload is visible (release-order publication via
// atomic.Uint64.Store, which on all Go-supported architectures is a
// store-release).
func (rb *RingBuffer) Write(src pcmfmt.Buffers, frameCount int) int {
	if frameCount <= 0 {
		return 0
	}

	available := rb.FramesAvailableToWrite()
	toWrite := uint64(frameCount)
	if toWrite > available {
		toWrite = available
	}
	if toWrite == 0 {
		return 0
	}

	writePos := rb.writePos.Load()
	start := writePos & rb.mask
	end := (writePos + toWrite) & rb.mask

	for ch := range rb.channels {
		dst := rb.channels[ch]
		source := src[ch]
		if end > start {
			copy(dst[start:start+toWrite], source[:toWrite])
		} else {
			firstLen := rb.capacity - start
			copy(dst[start:], source[:firstLen])
			copy(dst[:end], source[firstLen:toWrite])
		}
	}

	rb.writePos.Store(writePos + toWrite)
	return int(toWrite)
}

// Read copies up to min(frameCount, FramesAvailableToRead()) frames into
// dst (one slice per channel, each at least frameCount long). Consumer-
// only. Loads the write cursor with acquire ordering before copying so it
// observes a producer's release-ordered publication.
func (rb *RingBuffer) Read(dst pcmfmt.Buffers, frameCount int) int {
	if frameCount <= 0 {
		return 0
	}

	available := rb.FramesAvailableToRead()
	toRead := uint64(frameCount)
	if toRead > available {
		toRead = available
	}
	if toRead == 0 {
		return 0
	}

	readPos := rb.readPos.Load()
	start := readPos & rb.mask
	end := (readPos + toRead) & rb.mask

	for ch := range rb.channels {
		source := rb.channels[ch]
		target := dst[ch]
		if end > start {
			copy(target[:toRead], source[start:start+toRead])
		} else {
			firstLen := rb.capacity - start
			copy(target[:firstLen], source[start:])
			copy(target[firstLen:toRead], source[:end])
		}
	}

	rb.readPos.Store(readPos + toRead)
	return int(toRead)
}

// Skip advances the read cursor by frameCount frames without copying any
// payload out, used by the flush protocol (spec.md §4.3) to drop frames
// belonging to a canceled decoder that are still sitting in the ring.
func (rb *RingBuffer) Skip(frameCount int) int {
	if frameCount <= 0 {
		return 0
	}
	available := rb.FramesAvailableToRead()
	toSkip := uint64(frameCount)
	if toSkip > available {
		toSkip = available
	}
	rb.readPos.Store(rb.readPos.Load() + toSkip)
	return int(toSkip)
}

func nextPowerOf2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
