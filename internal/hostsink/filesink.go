// FileSink is the non-realtime counterpart to PortAudioSink: it pulls
// rendered audio from the engine on its own goroutine, decoupling the pull
// cadence from disk writes through pkg/ringbuffer's byte SPSC buffer
// (the same producer/consumer-over-AvailableWrite/AvailableRead pattern
// pkg/ringbuffer/examples/zerocopy/main.go demonstrates), and flushes to a
// wav.Writer-backed file the way cmd/transform.go's writeWAVFile does.
// Useful for golden-file tests and headless (no portaudio device) runs.
package hostsink

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/youpy/go-wav"

	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/pcmfmt"
	"github.com/drgolem/gapless/pkg/ringbuffer"
)

// FileSink renders totalFrames frames from a Renderer to a 16-bit PCM WAV
// file, decoupling the render pull from the file write through an
// intermediate byte ring buffer.
type FileSink struct {
	engine      Renderer
	format      pcmfmt.Format
	totalFrames int64
	ring        *ringbuffer.RingBuffer

	framesPerChunk int
	view           pcmfmt.Buffers
	scratch        []byte
}

// NewFileSink creates a FileSink rendering format-typed audio for
// totalFrames frames. totalFrames is both the number of frames Run pulls
// from the engine and the frame count written into the WAV header; with 0,
// nothing is rendered and the file holds only the header. There is no
// unknown-length mode. ringCapacityBytes is rounded up to a power of two by
// pkg/ringbuffer.New.
func NewFileSink(engine Renderer, format pcmfmt.Format, totalFrames int64, framesPerChunk int, ringCapacityBytes uint64) *FileSink {
	view := make(pcmfmt.Buffers, format.Channels)
	for ch := range view {
		view[ch] = make([]float32, framesPerChunk)
	}
	return &FileSink{
		engine:         engine,
		format:         format,
		totalFrames:    totalFrames,
		ring:           ringbuffer.New(ringCapacityBytes),
		framesPerChunk: framesPerChunk,
		view:           view,
		scratch:        make([]byte, framesPerChunk*format.Channels*2),
	}
}

// Run pulls totalFrames frames from the engine and writes them to path as
// a 16-bit PCM WAV file. It blocks until the pull goroutine and the flush
// goroutine both finish.
func (s *FileSink) Run(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("hostsink: create %s: %w", path, err)
	}
	defer file.Close()

	writer := wav.NewWriter(file, uint32(s.totalFrames), uint16(s.format.Channels), uint32(s.format.SampleRate), 16)

	var wg sync.WaitGroup
	wg.Add(2)

	pumpDone := make(chan struct{})
	var pumpErr error

	go func() {
		defer wg.Done()
		defer close(pumpDone)
		pumpErr = s.pump()
	}()

	var flushErr error
	go func() {
		defer wg.Done()
		flushErr = s.flush(writer, pumpDone)
	}()

	wg.Wait()
	if pumpErr != nil {
		return pumpErr
	}
	return flushErr
}

// pump is the producer: it renders audio in framesPerChunk slices and
// quantizes each slice into the ring buffer until totalFrames have been
// produced.
func (s *FileSink) pump() error {
	var hostTime int64
	var produced int64
	for produced < s.totalFrames {
		n := s.framesPerChunk
		if remaining := s.totalFrames - produced; int64(n) > remaining {
			n = int(remaining)
		}

		s.engine.Render(hostTime, n, s.view)
		hostTime += int64(n)

		needed := n * s.format.Channels * 2
		pcmconv.PlanarFloat32ToInt16(s.view, s.scratch, n)

		for {
			if _, err := s.ring.Write(s.scratch[:needed]); err == nil {
				break
			}
			time.Sleep(time.Millisecond)
		}

		produced += int64(n)
	}
	return nil
}

// flush is the consumer: it drains the ring buffer into writer until pump
// has signaled completion and every buffered byte has been written.
func (s *FileSink) flush(writer *wav.Writer, pumpDone <-chan struct{}) error {
	chunk := make([]byte, len(s.scratch))
	for {
		n, err := s.ring.Read(chunk)
		if n > 0 {
			if _, werr := writer.Write(chunk[:n]); werr != nil {
				return fmt.Errorf("hostsink: write wav data: %w", werr)
			}
		}
		if err != nil {
			select {
			case <-pumpDone:
				if s.ring.AvailableRead() == 0 {
					return nil
				}
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}
}
