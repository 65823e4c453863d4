package audioplayer

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/decoders"
	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/pcmfmt"
	"github.com/drgolem/gapless/pkg/types"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/drgolem/ringbuffer"
)

// bytesPerSample is fixed: Player always quantizes the decoder's planar
// float32 output to 16-bit PCM for the byte ringbuffer and PortAudio, the
// same quantization internal/hostsink.PortAudioSink performs for the
// gapless engine's output.
const bytesPerSample = 2

// Player is the legacy single-stream player: one decoder.Decoder at a
// time, no gapless queueing (see pkg/engine for that), driven by the same
// producer/consumer-over-a-byte-ringbuffer pattern as the original
// implementation this package was adapted from.
type Player struct {
	decoder         decoder.Decoder
	ringbuf         *ringbuffer.RingBuffer
	stream          *portaudio.PaStream
	format          pcmfmt.Format
	framesPerBuffer int
	deviceIndex     int
	fileName        string
	stopChan        chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	stopped         bool
	samplesConsumed atomic.Uint64
	startTime       time.Time

	// Metrics tracking
	metrics struct {
		sync.RWMutex

		consumerOps      atomic.Uint64
		consumerTimeSum  atomic.Uint64 // Microseconds
		maxConsumerTime  time.Duration
		outputUnderruns  atomic.Uint64

		producerOps     atomic.Uint64
		producerTimeSum atomic.Uint64 // Microseconds
		maxProducerTime time.Duration
		decodeErrors    atomic.Uint64

		maxBufferUsage atomic.Uint64

		maxJitter time.Duration
		jitterSum atomic.Uint64 // Microseconds
		jitterOps atomic.Uint64
	}
}

// Config holds player configuration.
type Config struct {
	BufferSize      uint64 // Ringbuffer size in bytes
	FramesPerBuffer int    // Portaudio buffer size in frames
	DeviceIndex     int    // Audio output device index
}

// DefaultConfig returns default player configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:      256 * 1024, // 256KB ringbuffer
		FramesPerBuffer: 512,        // 512 frames per buffer
		DeviceIndex:     1,          // Default device index
	}
}

// NewPlayer creates a new audio player.
func NewPlayer(config Config) *Player {
	return &Player{
		ringbuf:         ringbuffer.New(config.BufferSize),
		framesPerBuffer: config.FramesPerBuffer,
		deviceIndex:     config.DeviceIndex,
		stopChan:        make(chan struct{}),
	}
}

// OpenFile opens an audio file for playback, selecting a decoder by
// extension via pkg/decoders.New.
func (p *Player) OpenFile(fileName string) error {
	d, err := decoders.New(fileName)
	if err != nil {
		return err
	}
	if err := d.Open(); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	p.fileName = filepath.Base(fileName)
	return p.OpenDecoder(d)
}

// OpenDecoder opens an already-constructed decoder.Decoder for playback.
// This allows custom decoder implementations for streaming, network
// sources, etc.
func (p *Player) OpenDecoder(d decoder.Decoder) error {
	format := d.Format()

	slog.Info("Audio decoder opened",
		"sample_rate", format.SampleRate,
		"channels", format.Channels)

	p.decoder = d
	p.format = format
	return nil
}

// Play starts audio playback.
func (p *Player) Play() error {
	if p.decoder == nil {
		return fmt.Errorf("no file opened")
	}

	if err := p.initStream(); err != nil {
		return fmt.Errorf("failed to initialize audio stream: %w", err)
	}

	if err := p.stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.startTime = time.Now()
	p.samplesConsumed.Store(0)

	p.wg.Add(1)
	go p.producer()

	p.wg.Add(1)
	go p.consumer()

	slog.Info("Playback started")
	return nil
}

// Wait blocks until playback is complete.
func (p *Player) Wait() {
	p.wg.Wait()
}

// Stop stops playback.
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	if p.stream != nil {
		if err := p.stream.StopStream(); err != nil {
			slog.Warn("Failed to stop stream", "error", err)
		}
		if err := p.stream.Close(); err != nil {
			slog.Warn("Failed to close stream", "error", err)
		}
	}

	if p.decoder != nil {
		if err := p.decoder.Close(); err != nil {
			slog.Warn("Failed to close decoder", "error", err)
		}
	}

	slog.Info("Playback stopped")
	return nil
}

// initStream initializes the PortAudio stream at 16-bit output, the fixed
// quantization depth Player writes into its ringbuffer.
func (p *Player) initStream() error {
	outParams := portaudio.PaStreamParameters{
		DeviceIndex:  p.deviceIndex,
		ChannelCount: p.format.Channels,
		SampleFormat: portaudio.SampleFmtInt16,
	}

	stream, err := portaudio.NewStream(outParams, float64(p.format.SampleRate))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	if err := stream.Open(p.framesPerBuffer); err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	p.stream = stream
	return nil
}

// consumer reads 16-bit PCM from the ringbuffer and writes it to portaudio.
func (p *Player) consumer() {
	defer p.wg.Done()

	bytesPerFrame := p.format.Channels * bytesPerSample
	bufferSize := p.framesPerBuffer * bytesPerFrame
	buffer := make([]byte, bufferSize)
	expectedInterval := time.Duration(float64(p.framesPerBuffer) / float64(p.format.SampleRate) * float64(time.Second))

	slog.Info("Consumer started")

	var lastWriteTime time.Time

	for {
		iterStart := time.Now()

		select {
		case <-p.stopChan:
			slog.Info("Consumer stopped")
			return
		default:
		}

		readStart := time.Now()
		bytesRead, err := p.ringbuf.Read(buffer[:bufferSize])
		readTime := time.Since(readStart)

		if err != nil {
			p.metrics.outputUnderruns.Add(1)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		p.updateMaxBufferUsage(p.ringbuf.AvailableRead())

		frames := bytesRead / bytesPerFrame
		if frames == 0 {
			time.Sleep(1 * time.Millisecond)
			continue
		}
		bytesAligned := frames * bytesPerFrame

		writeStart := time.Now()
		err = p.stream.Write(frames, buffer[:bytesAligned])
		writeTime := time.Since(writeStart)
		if err != nil {
			slog.Error("Failed to write to audio stream", "error", err)
			return
		}

		iterTime := time.Since(iterStart)
		p.updateConsumerMetrics(iterTime, readTime, writeTime)

		if !lastWriteTime.IsZero() {
			now := time.Now()
			jitter := now.Sub(lastWriteTime) - expectedInterval
			if jitter < 0 {
				jitter = -jitter
			}
			p.updateJitterMetrics(jitter)
		}
		lastWriteTime = time.Now()

		p.samplesConsumed.Add(uint64(frames))
	}
}

// producer reads from the decoder and writes quantized 16-bit PCM to the
// ringbuffer.
func (p *Player) producer() {
	defer p.wg.Done()

	const framesPerDecode = 4 * 1024
	view := make(pcmfmt.Buffers, p.format.Channels)
	for ch := range view {
		view[ch] = make([]float32, framesPerDecode)
	}
	scratch := make([]byte, framesPerDecode*p.format.Channels*bytesPerSample)

	slog.Info("Producer started")

	for {
		iterStart := time.Now()

		select {
		case <-p.stopChan:
			slog.Info("Producer stopped")
			return
		default:
		}

		decodeStart := time.Now()
		framesRead, err := p.decoder.ReadAudio(view)
		decodeTime := time.Since(decodeStart)

		if err != nil {
			p.metrics.decodeErrors.Add(1)
		}
		if framesRead == 0 {
			slog.Info("Producer finished", "error", err)
			time.Sleep(2 * time.Second) // Let buffer drain
			// Stop waits on p.wg, which counts this goroutine, so it runs
			// on its own goroutine once this one has returned.
			go p.Stop()
			return
		}

		needed := framesRead * p.format.Channels * bytesPerSample
		pcmconv.PlanarFloat32ToInt16(view, scratch, framesRead)

		writeStart := time.Now()
		for {
			if _, werr := p.ringbuf.Write(scratch[:needed]); werr == nil {
				break
			}

			select {
			case <-p.stopChan:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		writeTime := time.Since(writeStart)

		iterTime := time.Since(iterStart)
		p.updateProducerMetrics(iterTime, decodeTime, writeTime)
	}
}

func (p *Player) updateConsumerMetrics(totalTime, readTime, writeTime time.Duration) {
	p.metrics.consumerOps.Add(1)
	p.metrics.consumerTimeSum.Add(uint64(totalTime.Microseconds()))

	p.metrics.Lock()
	if totalTime > p.metrics.maxConsumerTime {
		p.metrics.maxConsumerTime = totalTime
	}
	p.metrics.Unlock()
}

func (p *Player) updateProducerMetrics(totalTime, decodeTime, writeTime time.Duration) {
	p.metrics.producerOps.Add(1)
	p.metrics.producerTimeSum.Add(uint64(totalTime.Microseconds()))

	p.metrics.Lock()
	if totalTime > p.metrics.maxProducerTime {
		p.metrics.maxProducerTime = totalTime
	}
	p.metrics.Unlock()
}

func (p *Player) updateMaxBufferUsage(current uint64) {
	for {
		old := p.metrics.maxBufferUsage.Load()
		if current <= old {
			break
		}
		if p.metrics.maxBufferUsage.CompareAndSwap(old, current) {
			break
		}
	}
}

func (p *Player) updateJitterMetrics(jitter time.Duration) {
	p.metrics.jitterOps.Add(1)
	p.metrics.jitterSum.Add(uint64(jitter.Microseconds()))

	p.metrics.Lock()
	if jitter > p.metrics.maxJitter {
		p.metrics.maxJitter = jitter
	}
	p.metrics.Unlock()
}

// GetBufferStatus returns current ringbuffer status.
func (p *Player) GetBufferStatus() (available, size uint64) {
	return p.ringbuf.AvailableRead(), p.ringbuf.Size()
}

// GetPlaybackStatus returns current playback status, satisfying
// types.PlaybackMonitor.
func (p *Player) GetPlaybackStatus() types.PlaybackStatus {
	samples := p.samplesConsumed.Load()
	return types.PlaybackStatus{
		FileName:        p.fileName,
		SampleRate:      p.format.SampleRate,
		Channels:        p.format.Channels,
		BitsPerSample:   bytesPerSample * 8,
		FramesPerBuffer: p.framesPerBuffer,
		PlayedSamples:   samples,
		BufferedSamples: p.ringbuf.AvailableRead() / uint64(p.format.Channels*bytesPerSample),
		ElapsedTime:     time.Since(p.startTime),
	}
}

// ExtendedPlaybackStatus bundles PlaybackStatus with the detailed producer/
// consumer/jitter metrics this package tracks internally; it has no
// counterpart in pkg/types since those metrics are specific to this
// ringbuffer-based player, not to playback monitoring in general.
type ExtendedPlaybackStatus struct {
	types.PlaybackStatus
	Metrics PlaybackMetrics
}

// PlaybackMetrics is the detailed metric snapshot behind
// ExtendedPlaybackStatus.
type PlaybackMetrics struct {
	ConsumerOps     uint64
	MaxConsumerTime time.Duration
	AvgConsumerTime time.Duration
	OutputUnderruns uint64

	ProducerOps     uint64
	MaxProducerTime time.Duration
	AvgProducerTime time.Duration
	DecodeErrors    uint64

	BufferSize        uint64
	BufferAvailable   uint64
	BufferUtilization float64
	MaxBufferUsage    uint64

	MaxJitter time.Duration
	AvgJitter time.Duration
}

// GetExtendedPlaybackStatus returns comprehensive playback metrics.
func (p *Player) GetExtendedPlaybackStatus() ExtendedPlaybackStatus {
	basicStatus := p.GetPlaybackStatus()

	p.metrics.RLock()
	defer p.metrics.RUnlock()

	consumerOps := p.metrics.consumerOps.Load()
	avgConsumerTime := time.Duration(0)
	if consumerOps > 0 {
		avgConsumerTime = time.Duration(p.metrics.consumerTimeSum.Load()/consumerOps) * time.Microsecond
	}

	producerOps := p.metrics.producerOps.Load()
	avgProducerTime := time.Duration(0)
	if producerOps > 0 {
		avgProducerTime = time.Duration(p.metrics.producerTimeSum.Load()/producerOps) * time.Microsecond
	}

	jitterOps := p.metrics.jitterOps.Load()
	avgJitter := time.Duration(0)
	if jitterOps > 0 {
		avgJitter = time.Duration(p.metrics.jitterSum.Load()/jitterOps) * time.Microsecond
	}

	bufferSize := p.ringbuf.Size()
	bufferAvailable := p.ringbuf.AvailableRead()
	bufferUtilization := float64(bufferAvailable) / float64(bufferSize) * 100.0

	return ExtendedPlaybackStatus{
		PlaybackStatus: basicStatus,
		Metrics: PlaybackMetrics{
			ConsumerOps:     consumerOps,
			MaxConsumerTime: p.metrics.maxConsumerTime,
			AvgConsumerTime: avgConsumerTime,
			OutputUnderruns: p.metrics.outputUnderruns.Load(),

			ProducerOps:     producerOps,
			MaxProducerTime: p.metrics.maxProducerTime,
			AvgProducerTime: avgProducerTime,
			DecodeErrors:    p.metrics.decodeErrors.Load(),

			BufferSize:        bufferSize,
			BufferAvailable:   bufferAvailable,
			BufferUtilization: bufferUtilization,
			MaxBufferUsage:    p.metrics.maxBufferUsage.Load(),

			MaxJitter: p.metrics.maxJitter,
			AvgJitter: avgJitter,
		},
	}
}

// PrintMetrics outputs formatted metrics to console.
func (p *Player) PrintMetrics() {
	status := p.GetExtendedPlaybackStatus()
	m := status.Metrics

	fmt.Println("\n=== Playback Metrics ===")
	fmt.Printf("Elapsed Time:     %v\n", status.ElapsedTime)
	fmt.Printf("Samples Played:   %d\n", status.PlayedSamples)

	fmt.Println("\n--- Consumer (Output) ---")
	fmt.Printf("Operations:       %d\n", m.ConsumerOps)
	fmt.Printf("Max Latency:      %v\n", m.MaxConsumerTime)
	fmt.Printf("Avg Latency:      %v\n", m.AvgConsumerTime)
	fmt.Printf("Underruns:        %d\n", m.OutputUnderruns)

	fmt.Println("\n--- Producer (Decode) ---")
	fmt.Printf("Operations:       %d\n", m.ProducerOps)
	fmt.Printf("Max Decode Time:  %v\n", m.MaxProducerTime)
	fmt.Printf("Avg Decode Time:  %v\n", m.AvgProducerTime)
	fmt.Printf("Decode Errors:    %d\n", m.DecodeErrors)

	fmt.Println("\n--- Buffer Stats ---")
	fmt.Printf("Buffer Size:      %d bytes\n", m.BufferSize)
	fmt.Printf("Available:        %d bytes\n", m.BufferAvailable)
	fmt.Printf("Utilization:      %.1f%%\n", m.BufferUtilization)
	fmt.Printf("Peak Usage:       %d bytes\n", m.MaxBufferUsage)

	fmt.Println("\n--- Timing Stability ---")
	fmt.Printf("Max Jitter:       %v\n", m.MaxJitter)
	fmt.Printf("Avg Jitter:       %v\n", m.AvgJitter)
}
