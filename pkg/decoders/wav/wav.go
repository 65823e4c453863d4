// Package wav adapts github.com/youpy/go-wav to the engine's
// decoder.Decoder interface, replacing the original Decoder's
// byte-oriented DecodeSamples with a direct planar float32 ReadAudio,
// using the same wav.Reader.Format/ReadSamples surface the teacher's
// decoder already drove.
package wav

import (
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"

	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// Decoder implements decoder.Decoder over a PCM WAV file.
type Decoder struct {
	fileName string
	file     *os.File
	reader   *wav.Reader

	format  pcmfmt.Format
	bps     int
	divisor float32

	framePos int64
}

// New creates a Decoder for fileName. Open must be called before use.
func New(fileName string) *Decoder {
	return &Decoder{fileName: fileName}
}

func (d *Decoder) Open() error {
	file, err := os.Open(d.fileName)
	if err != nil {
		return fmt.Errorf("wav: open %s: %w", d.fileName, err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("wav: read format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("wav: unsupported format %d, only PCM is supported", format.AudioFormat)
	}

	d.file = file
	d.reader = reader
	d.format = pcmfmt.Format{SampleRate: int(format.SampleRate), Channels: int(format.NumChannels)}
	d.bps = int(format.BitsPerSample)
	d.divisor = float32(int64(1) << (d.bps - 1))
	d.framePos = 0
	return nil
}

func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.reader = nil
		return err
	}
	return nil
}

func (d *Decoder) Format() pcmfmt.Format { return d.format }

func (d *Decoder) ChannelLayout() pcmfmt.ChannelLayout {
	return pcmfmt.ChannelLayout{Channels: d.format.Channels}
}

func (d *Decoder) FrameLength() int64 {
	return pcmfmt.FrameUnknown
}

func (d *Decoder) FramePosition() int64 { return d.framePos }

// SupportsSeeking reports false: go-wav's Reader is a sequential
// io.Reader-backed decoder with no exposed seek primitive.
func (d *Decoder) SupportsSeeking() bool { return false }

func (d *Decoder) SeekToFrame(frame int64) error {
	return fmt.Errorf("wav: seeking not supported")
}

func (d *Decoder) ReadAudio(dst pcmfmt.Buffers) (int, error) {
	want := dst.FrameCount()
	if want == 0 {
		return 0, nil
	}

	samples, err := d.reader.ReadSamples(want)
	if err != nil {
		if err == io.EOF {
			err = nil
		} else {
			return 0, fmt.Errorf("wav: read samples: %w", err)
		}
	}
	n := len(samples)
	if n == 0 {
		return 0, nil
	}

	for i, s := range samples {
		for ch := 0; ch < d.format.Channels; ch++ {
			if ch >= len(s.Values) {
				continue
			}
			dst[ch][i] = float32(s.Values[ch]) / d.divisor
		}
	}

	d.framePos += int64(n)
	return n, nil
}
