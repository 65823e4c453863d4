// Package decoder defines the interface the engine uses to pull audio from
// a codec, a network source, or any other frame producer. Individual codec
// implementations (FLAC, MP3, WAV, ...) live under pkg/decoders/* and are
// external collaborators consumed only through this interface.
package decoder

import "github.com/drgolem/gapless/pkg/pcmfmt"

// Decoder is read-only during rendering; the engine mutates a Decoder only
// from its decoding goroutine, never from the realtime render callback.
type Decoder interface {
	// Open prepares the decoder to produce audio. Called once, from the
	// decoding goroutine, before any ReadAudio call.
	Open() error

	// Close releases decoder resources. Called once, from the GC
	// goroutine, after the decoder's DecoderState has fully retired.
	Close() error

	// Format returns the decoder's native rendering format. Must equal
	// the engine's rendering format in sample rate and channel count or
	// the decoder is rejected at enqueue with pcmfmt.ErrFormatNotSupported.
	Format() pcmfmt.Format

	// ChannelLayout returns the decoder's channel layout, or the zero
	// value if unspecified (no channel map is constructed).
	ChannelLayout() pcmfmt.ChannelLayout

	// FrameLength returns the total number of frames, or
	// pcmfmt.FrameUnknown if the length is not known in advance.
	FrameLength() int64

	// FramePosition returns the current decode position, or
	// pcmfmt.FrameUnknown if not tracked.
	FramePosition() int64

	// SupportsSeeking reports whether SeekToFrame may be called.
	SupportsSeeking() bool

	// ReadAudio decodes up to len(dst[0]) frames into dst, a
	// non-interleaved buffer with one slice per channel already sized to
	// Format().Channels. Returns the number of frames actually produced.
	// framesProduced == 0 signals end-of-stream.
	ReadAudio(dst pcmfmt.Buffers) (framesProduced int, err error)

	// SeekToFrame repositions the decoder so the next ReadAudio call
	// resumes at frame. Only called when SupportsSeeking reports true.
	SeekToFrame(frame int64) error
}

// Flag is a bit in a DecoderState's atomic flag word.
type Flag uint32

const (
	FlagDecodingStarted Flag = 1 << iota
	FlagDecodingComplete
	FlagDecodingCanceled
	FlagRenderingStarted
	FlagRenderingComplete
)
