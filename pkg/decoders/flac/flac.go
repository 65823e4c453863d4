// Package flac adapts github.com/drgolem/go-flac to the engine's
// decoder.Decoder interface: it keeps the teacher's 16-bit
// NewFlacFrameDecoder/DecodeSamples/Seek surface and adds the planar
// float32 conversion and frame/position bookkeeping the engine needs.
package flac

import (
	"fmt"
	"io"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

const outputBitDepth = 16

// Decoder implements decoder.Decoder over a FLAC file.
type Decoder struct {
	fileName string
	decoder  *goflac.FlacDecoder

	format   pcmfmt.Format
	scratch  []byte
	scratchN int
}

// New creates a Decoder for fileName. Open must be called before use.
func New(fileName string) *Decoder {
	return &Decoder{fileName: fileName}
}

func (d *Decoder) Open() error {
	dec, err := goflac.NewFlacFrameDecoder(outputBitDepth)
	if err != nil {
		return fmt.Errorf("flac: create decoder: %w", err)
	}
	if err := dec.Open(d.fileName); err != nil {
		dec.Delete()
		return fmt.Errorf("flac: open %s: %w", d.fileName, err)
	}

	rate, channels, _ := dec.GetFormat()
	d.decoder = dec
	d.format = pcmfmt.Format{SampleRate: rate, Channels: channels}
	return nil
}

func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

func (d *Decoder) Format() pcmfmt.Format { return d.format }

func (d *Decoder) ChannelLayout() pcmfmt.ChannelLayout {
	return pcmfmt.ChannelLayout{Channels: d.format.Channels}
}

func (d *Decoder) FrameLength() int64 {
	if d.decoder == nil {
		return pcmfmt.FrameUnknown
	}
	total := d.decoder.TotalSamples()
	if total <= 0 {
		return pcmfmt.FrameUnknown
	}
	return total
}

func (d *Decoder) FramePosition() int64 {
	if d.decoder == nil {
		return pcmfmt.FrameUnknown
	}
	return d.decoder.TellCurrentSample()
}

func (d *Decoder) SupportsSeeking() bool { return true }

func (d *Decoder) SeekToFrame(frame int64) error {
	_, err := d.decoder.Seek(frame, io.SeekStart)
	return err
}

func (d *Decoder) ReadAudio(dst pcmfmt.Buffers) (int, error) {
	frames := dst.FrameCount()
	if frames == 0 {
		return 0, nil
	}

	bytesPerFrame := d.format.Channels * (outputBitDepth / 8)
	needed := frames * bytesPerFrame
	if len(d.scratch) < needed {
		d.scratch = make([]byte, needed)
	}

	n, err := d.decoder.DecodeSamples(frames, d.scratch)
	if err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("flac: decode: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	pcmconv.Int16ToPlanarFloat32(d.scratch[:n*bytesPerFrame], dst, n)
	return n, nil
}
