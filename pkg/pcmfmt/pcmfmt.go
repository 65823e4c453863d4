// Package pcmfmt defines the fixed PCM representation used throughout the
// engine: non-interleaved (planar) 32-bit float samples at a sample rate
// and channel count agreed between the engine and every enqueued decoder.
package pcmfmt

import "errors"

// FrameUnknown is the sentinel frame count for streams of unknown length.
const FrameUnknown int64 = -1

// ErrFormatNotSupported is returned synchronously from Engine.Enqueue when a
// decoder's format does not match the engine's rendering format.
var ErrFormatNotSupported = errors.New("pcmfmt: format not supported")

// Format describes a PCM stream in the engine's fixed representation:
// 32-bit float, native-endian, non-interleaved. Only sample rate and
// channel count vary between streams.
type Format struct {
	SampleRate int
	Channels   int
}

// Equal reports whether two formats have the same sample rate and channel
// count. Sample representation is not compared: it is always float32.
func (f Format) Equal(other Format) bool {
	return f.SampleRate == other.SampleRate && f.Channels == other.Channels
}

func (f Format) String() string {
	if f.Channels == 0 {
		return "0Hz/0ch"
	}
	return itoa(f.SampleRate) + "Hz/" + itoa(f.Channels) + "ch"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Buffers is the engine's non-interleaved sample container: one
// contiguous []float32 per channel. len(Buffers) == Format.Channels and
// every slice has the same length.
type Buffers [][]float32

// FrameCount returns the number of frames represented, 0 if empty.
func (b Buffers) FrameCount() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// ChannelLayoutTag identifies a standard channel layout. The zero value
// means "unspecified" — no channel map is constructed.
type ChannelLayoutTag uint32

const ChannelLayoutUnknown ChannelLayoutTag = 0

// ChannelLayout names the channels a decoder produces, in order. The
// engine does not read it and builds no permutation from it: channels are
// permuted only when the caller passes an explicit ChannelMap to
// Engine.EnqueueWithChannelMap.
type ChannelLayout struct {
	Tag      ChannelLayoutTag
	Channels int
}

// ChannelMap is an output-channel -> input-channel permutation, one entry
// per output channel. A nil map means identity (no permutation needed).
type ChannelMap []int

// IdentityChannelMap returns the no-op channel map for n channels, or nil
// (the same as "no map") if identity.
func IdentityChannelMap(n int) ChannelMap {
	return nil
}
