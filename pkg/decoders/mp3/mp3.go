// Package mp3 adapts github.com/imcarsen/go-mp3 to the engine's
// decoder.Decoder interface. go-mp3's Decoder is an io.Reader/io.Seeker
// that always produces 16-bit little-endian stereo PCM (confirmed against
// the sukus21/go-mp3 sibling carried in the retrieval pack, a fork of the
// same upstream API), so the conversion to planar float32 always assumes
// two channels regardless of the source file's own channel count.
package mp3

import (
	"fmt"
	"io"
	"os"

	gomp3 "github.com/imcarsen/go-mp3"

	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

const mp3Channels = 2
const bytesPerSample = 2

// Decoder implements decoder.Decoder over an MP3 file.
type Decoder struct {
	fileName string
	file     *os.File
	mp3      *gomp3.Decoder

	format  pcmfmt.Format
	scratch []byte
}

// New creates a Decoder for fileName. Open must be called before use.
func New(fileName string) *Decoder {
	return &Decoder{fileName: fileName}
}

func (d *Decoder) Open() error {
	f, err := os.Open(d.fileName)
	if err != nil {
		return fmt.Errorf("mp3: open %s: %w", d.fileName, err)
	}

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("mp3: decode %s: %w", d.fileName, err)
	}

	d.file = f
	d.mp3 = dec
	d.format = pcmfmt.Format{SampleRate: dec.SampleRate(), Channels: mp3Channels}
	return nil
}

func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.mp3 = nil
		return err
	}
	return nil
}

func (d *Decoder) Format() pcmfmt.Format { return d.format }

func (d *Decoder) ChannelLayout() pcmfmt.ChannelLayout {
	return pcmfmt.ChannelLayout{Channels: mp3Channels}
}

func (d *Decoder) FrameLength() int64 {
	total := d.mp3.Length()
	if total < 0 {
		return pcmfmt.FrameUnknown
	}
	return total / int64(mp3Channels*bytesPerSample)
}

func (d *Decoder) FramePosition() int64 {
	pos, err := d.mp3.Seek(0, io.SeekCurrent)
	if err != nil {
		return pcmfmt.FrameUnknown
	}
	return pos / int64(mp3Channels*bytesPerSample)
}

func (d *Decoder) SupportsSeeking() bool { return true }

func (d *Decoder) SeekToFrame(frame int64) error {
	_, err := d.mp3.Seek(frame*int64(mp3Channels*bytesPerSample), io.SeekStart)
	return err
}

func (d *Decoder) ReadAudio(dst pcmfmt.Buffers) (int, error) {
	frames := dst.FrameCount()
	if frames == 0 {
		return 0, nil
	}

	needed := frames * mp3Channels * bytesPerSample
	if len(d.scratch) < needed {
		d.scratch = make([]byte, needed)
	}

	read := 0
	for read < needed {
		n, err := d.mp3.Read(d.scratch[read:needed])
		read += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("mp3: read: %w", err)
		}
		if n == 0 {
			break
		}
	}

	framesRead := read / (mp3Channels * bytesPerSample)
	if framesRead == 0 {
		return 0, nil
	}

	pcmconv.Int16ToPlanarFloat32(d.scratch[:framesRead*mp3Channels*bytesPerSample], dst, framesRead)
	return framesRead, nil
}
