// Package stream implements decoder.Decoder for non-file audio sources
// (network streams, synthesized audio), adapted from the byte-oriented
// StreamDecoder/AudioPacketProvider pair of
// pkg/decoders/stream/stream_decoder.go to the engine's planar float32
// Decoder contract: a Provider now hands over already-planar PCM packets
// instead of interleaved bytes, so no bit-depth conversion happens here.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// ErrFormatChanged is returned by ReadAudio when a Packet's format no
// longer matches the format the Decoder was constructed with; the engine's
// rendering format is fixed for the lifetime of one enqueued Decoder, so a
// source that changes format mid-stream must be re-enqueued as a new one.
var ErrFormatChanged = errors.New("stream: source format changed mid-stream")

// Packet is one chunk of already-planar PCM handed back by a Provider.
type Packet struct {
	Audio  pcmfmt.Buffers
	Format pcmfmt.Format
}

// Provider is the interface for sources that hand the engine planar PCM on
// demand: network streams, synthesizers, test fixtures.
type Provider interface {
	// ReadPacket returns the next packet of up to frameCount frames.
	// io.EOF (wrapped or bare) signals end of stream.
	ReadPacket(ctx context.Context, frameCount int) (*Packet, error)
}

// Decoder implements decoder.Decoder over a Provider.
type Decoder struct {
	provider Provider
	format   pcmfmt.Format
	ctx      context.Context

	mu  sync.Mutex
	pos int64
}

// New creates a Decoder pulling from provider, fixed to format for its
// entire lifetime.
func New(ctx context.Context, provider Provider, format pcmfmt.Format) *Decoder {
	return &Decoder{provider: provider, format: format, ctx: ctx}
}

func (d *Decoder) Open() error  { return nil }
func (d *Decoder) Close() error { return nil }

func (d *Decoder) Format() pcmfmt.Format { return d.format }

func (d *Decoder) ChannelLayout() pcmfmt.ChannelLayout {
	return pcmfmt.ChannelLayout{Channels: d.format.Channels}
}

// FrameLength is always unknown for a live stream.
func (d *Decoder) FrameLength() int64 { return pcmfmt.FrameUnknown }

func (d *Decoder) FramePosition() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

// SupportsSeeking is always false: live/synthesized sources have no
// rewindable timeline.
func (d *Decoder) SupportsSeeking() bool { return false }

func (d *Decoder) SeekToFrame(frame int64) error {
	return errors.New("stream: seeking not supported")
}

func (d *Decoder) ReadAudio(dst pcmfmt.Buffers) (int, error) {
	want := dst.FrameCount()
	if want == 0 {
		return 0, nil
	}

	pkt, err := d.provider.ReadPacket(d.ctx, want)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	if pkt == nil || pkt.Audio.FrameCount() == 0 {
		return 0, nil
	}
	if !pkt.Format.Equal(d.format) {
		return 0, ErrFormatChanged
	}

	n := pkt.Audio.FrameCount()
	if n > want {
		n = want
	}
	for ch := range dst {
		if ch < len(pkt.Audio) {
			copy(dst[ch][:n], pkt.Audio[ch][:n])
		}
	}

	d.mu.Lock()
	d.pos += int64(n)
	d.mu.Unlock()

	return n, nil
}
