// Package memtest provides a deterministic in-memory decoder.Decoder used
// to drive the engine's own test suite through the exact end-to-end
// scenarios of spec.md §8, without needing real FLAC/MP3/WAV fixture
// files. It is the engine-test analogue of
// pkg/decoders/stream.StreamDecoder's AudioPacketProvider abstraction,
// simplified to a fixed in-memory sample slice.
package memtest

import (
	"errors"
	"sync"

	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// ErrNotOpen is returned by ReadAudio/SeekToFrame before Open has been called.
var ErrNotOpen = errors.New("memtest: decoder not open")

// Decoder produces frames from an in-memory, single-channel (or
// multi-channel, planar) sample table, one sample per channel per frame.
// It supports seeking and reports an exact FrameLength unless configured
// otherwise, which makes it ideal for exercising the gapless, cancel, and
// seek scenarios deterministically.
type Decoder struct {
	mu sync.Mutex

	format   pcmfmt.Format
	samples  pcmfmt.Buffers // one slice per channel, full stream
	pos      int64
	opened   bool
	seekable bool

	// unknownLength, if true, makes FrameLength report pcmfmt.FrameUnknown.
	unknownLength bool

	// OpenErr, if set, is returned by Open instead of succeeding.
	OpenErr error
	// ReadErr, if set, is returned by ReadAudio once reached (simulates a
	// mid-stream decoder failure); After is the frame position at which
	// it triggers.
	ReadErr      error
	ReadErrAfter int64

	// MaxFramesPerCall caps how many frames ReadAudio ever returns in one
	// call, simulating a decoder that only ever produces small chunks
	// (exercises the render callback's underflow path).
	MaxFramesPerCall int
}

// New builds a Decoder over samples (one slice per channel, equal length).
func New(format pcmfmt.Format, samples pcmfmt.Buffers, seekable bool) *Decoder {
	return &Decoder{format: format, samples: samples, seekable: seekable}
}

// WithUnknownLength marks the decoder as reporting pcmfmt.FrameUnknown for
// FrameLength, matching spec.md §8's "a stream of unknown length" case.
func (d *Decoder) WithUnknownLength() *Decoder {
	d.unknownLength = true
	return d
}

func (d *Decoder) Open() error {
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = true
	d.pos = 0
	return nil
}

func (d *Decoder) Close() error {
	d.opened = false
	return nil
}

func (d *Decoder) Format() pcmfmt.Format { return d.format }

func (d *Decoder) ChannelLayout() pcmfmt.ChannelLayout { return pcmfmt.ChannelLayout{} }

func (d *Decoder) FrameLength() int64 {
	if d.unknownLength {
		return pcmfmt.FrameUnknown
	}
	if len(d.samples) == 0 {
		return 0
	}
	return int64(len(d.samples[0]))
}

func (d *Decoder) FramePosition() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func (d *Decoder) SupportsSeeking() bool { return d.seekable }

func (d *Decoder) ReadAudio(dst pcmfmt.Buffers) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return 0, ErrNotOpen
	}

	if d.ReadErr != nil && d.pos >= d.ReadErrAfter {
		return 0, d.ReadErr
	}

	total := int64(0)
	if len(d.samples) > 0 {
		total = int64(len(d.samples[0]))
	}
	remaining := total - d.pos
	if remaining <= 0 {
		return 0, nil
	}

	want := len(dst[0])
	if d.MaxFramesPerCall > 0 && want > d.MaxFramesPerCall {
		want = d.MaxFramesPerCall
	}
	n := int64(want)
	if n > remaining {
		n = remaining
	}

	for ch := range dst {
		if ch < len(d.samples) {
			copy(dst[ch][:n], d.samples[ch][d.pos:d.pos+n])
		}
	}

	d.pos += n
	return int(n), nil
}

func (d *Decoder) SeekToFrame(frame int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seekable {
		return errors.New("memtest: decoder is not seekable")
	}
	d.pos = frame
	return nil
}
