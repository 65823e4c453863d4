// Package hostsink adapts pkg/engine.Engine.Render to concrete host audio
// graphs. PortAudioSink is the realtime path (portaudio.PaStream.
// OpenCallback), grounded directly on internal/fileplayer/fileplayer.go's
// audioCallback: same callback shape, same silence-fill-on-underflow
// behavior, but delegating all buffering/decoder bookkeeping to the engine
// instead of tracking a single atomic current frame itself.
package hostsink

import (
	"fmt"
	"log/slog"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

// Renderer is the subset of *engine.Engine that PortAudioSink needs; kept
// as an interface so tests can exercise the sink against a fake.
type Renderer interface {
	Render(hostTime int64, frameCount int, out pcmfmt.Buffers) int
}

// PortAudioSink drives a realtime PortAudio output stream from a Renderer,
// quantizing the engine's planar float32 output to 16-bit interleaved PCM
// at the callback boundary (same sample format
// internal/fileplayer/fileplayer.go's stream always opened for its
// 16-bit-only codec path).
type PortAudioSink struct {
	engine Renderer
	stream *portaudio.PaStream
	format pcmfmt.Format

	view     pcmfmt.Buffers
	scratch  []byte
	hostTime int64
}

// NewPortAudioSink opens a PortAudio output stream at format's sample rate
// and channel count, framesPerBuffer frames per callback, on deviceIndex.
func NewPortAudioSink(engine Renderer, format pcmfmt.Format, deviceIndex, framesPerBuffer int) (*PortAudioSink, error) {
	s := &PortAudioSink{
		engine: engine,
		format: format,
	}
	s.view = make(pcmfmt.Buffers, format.Channels)
	for ch := range s.view {
		s.view[ch] = make([]float32, framesPerBuffer)
	}
	s.scratch = make([]byte, framesPerBuffer*format.Channels*2)

	stream := &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  deviceIndex,
			ChannelCount: format.Channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(format.SampleRate),
	}

	if err := stream.OpenCallback(framesPerBuffer, s.callback); err != nil {
		return nil, fmt.Errorf("hostsink: open stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Start begins playback.
func (s *PortAudioSink) Start() error {
	if err := s.stream.StartStream(); err != nil {
		return fmt.Errorf("hostsink: start stream: %w", err)
	}
	return nil
}

// Stop halts and closes the stream. Safe to call once playback has ended.
func (s *PortAudioSink) Stop() error {
	if err := s.stream.StopStream(); err != nil {
		slog.Warn("hostsink: failed to stop stream", "error", err)
	}
	return s.stream.Close()
}

// callback is PortAudio's realtime consumer. It must never allocate; view
// and scratch are sized once at construction and reused every call.
func (s *PortAudioSink) callback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	n := int(frameCount)
	if len(s.view[0]) < n {
		n = len(s.view[0])
	}
	needed := n * s.format.Channels * 2
	if len(s.scratch) < needed {
		s.scratch = make([]byte, needed)
	}

	s.engine.Render(s.hostTime, n, s.view)
	s.hostTime += int64(n)

	pcmconv.PlanarFloat32ToInt16(s.view, s.scratch, n)
	copy(output, s.scratch[:needed])
	if needed < len(output) {
		clear(output[needed:])
	}

	return portaudio.Continue
}
