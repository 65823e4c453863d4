package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/drgolem/gapless/internal/hostsink"
	"github.com/drgolem/gapless/pkg/decoders"
	"github.com/drgolem/gapless/pkg/engine"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

var (
	playlistDeviceIdx   int
	playlistRingFrames  int
	playlistPAFrames    int
	playlistDecodeChunk int
	playlistVerbose     bool
)

// playlistCmd represents the playlist command
var playlistCmd = &cobra.Command{
	Use:   "playlist <audio_file> [audio_file...]",
	Short: "Play multiple audio files back to back, gaplessly",
	Long: `Play multiple audio files in sequence with no gap, silence, or audible
seam between tracks, using pkg/engine's lock-free ring buffer and decoder
queue: every file is enqueued up front and the decoding goroutine chains
from one decoder straight into the next the instant the first reaches
end-of-stream, never returning to idle in between.

Examples:
  # Play three files gaplessly
  gapless playlist track1.flac track2.flac track3.flac

  # Use a specific output device
  gapless playlist -d 0 *.wav

  # Larger ring buffer for a slow or contended disk
  gapless playlist -r 65536 *.mp3

All files must share the same sample rate and channel count (the first
file's format becomes the engine's fixed rendering format); files that
don't match are skipped with a warning, not resampled.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPlaylist,
}

func init() {
	rootCmd.AddCommand(playlistCmd)

	playlistCmd.Flags().IntVarP(&playlistDeviceIdx, "device", "d", 1, "Audio output device index")
	playlistCmd.Flags().IntVarP(&playlistRingFrames, "ring-frames", "r", 16384, "Engine ring buffer capacity, in frames (rounded up to a power of two)")
	playlistCmd.Flags().IntVarP(&playlistPAFrames, "paframes", "p", 512, "PortAudio frames per buffer")
	playlistCmd.Flags().IntVarP(&playlistDecodeChunk, "chunk", "c", 4096, "Frames requested per decoder ReadAudio call")
	playlistCmd.Flags().BoolVarP(&playlistVerbose, "verbose", "v", false, "Verbose output (debug logging)")
}

// playlistDelegate implements engine.Delegate, logging every lifecycle
// event and signaling doneCh once the whole playlist has rendered to
// completion.
type playlistDelegate struct {
	doneCh   chan struct{}
	doneOnce sync.Once
}

func newPlaylistDelegate() *playlistDelegate {
	return &playlistDelegate{doneCh: make(chan struct{})}
}

func (d *playlistDelegate) OnDecodingStarted(seq uint64) {
	slog.Debug("decoding started", "seq", seq)
}

func (d *playlistDelegate) OnDecodingComplete(seq uint64) {
	slog.Debug("decoding complete", "seq", seq)
}

func (d *playlistDelegate) OnDecodingCanceled(seq uint64, partiallyRendered bool) {
	slog.Info("decoding canceled", "seq", seq, "partially_rendered", partiallyRendered)
}

func (d *playlistDelegate) OnRenderingWillStart(seq uint64, hostTime int64) {
	slog.Info("track starting", "seq", seq, "host_time", hostTime)
}

func (d *playlistDelegate) OnRenderingStarted(seq uint64) {
	slog.Debug("rendering started", "seq", seq)
}

func (d *playlistDelegate) OnRenderingComplete(seq uint64) {
	slog.Info("track finished", "seq", seq)
}

func (d *playlistDelegate) OnEndOfAudio() {
	slog.Info("playlist complete")
	d.doneOnce.Do(func() { close(d.doneCh) })
}

func (d *playlistDelegate) OnError(err error) {
	slog.Error("engine error", "error", err)
}

func runPlaylist(cmd *cobra.Command, args []string) {
	logLevel := slog.LevelInfo
	if playlistVerbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	files := args

	probe, err := decoders.New(files[0])
	if err != nil {
		slog.Error("unsupported file format", "file", files[0], "error", err)
		os.Exit(1)
	}
	if err := probe.Open(); err != nil {
		slog.Error("failed to open file", "file", files[0], "error", err)
		os.Exit(1)
	}
	format := probe.Format()
	probe.Close()

	slog.Info("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("Failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())
	slog.Info("Configuration",
		"device_index", playlistDeviceIdx,
		"ring_frames", playlistRingFrames,
		"pa_frames_per_buffer", playlistPAFrames,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"file_count", len(files))

	cfg := engine.DefaultConfig(format)
	cfg.RingBufferCapacityFrames = playlistRingFrames
	cfg.DecodeChunkFrames = playlistDecodeChunk
	delegate := newPlaylistDelegate()
	cfg.Delegate = delegate

	eng, err := engine.Create(cfg)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	defer eng.Shutdown()

	for _, fileName := range files {
		d, err := decoders.New(fileName)
		if err != nil {
			slog.Warn("skipping unsupported file", "file", fileName, "error", err)
			continue
		}
		if err := eng.Enqueue(d); err != nil {
			slog.Warn("skipping file with mismatched format", "file", fileName, "error", err)
			continue
		}
		slog.Info("enqueued", "file", fileName)
	}

	sink, err := hostsink.NewPortAudioSink(eng, format, playlistDeviceIdx, playlistPAFrames)
	if err != nil {
		slog.Error("failed to open output stream", "error", err)
		os.Exit(1)
	}

	if err := sink.Start(); err != nil {
		slog.Error("failed to start output stream", "error", err)
		os.Exit(1)
	}

	eng.Play()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	statusDone := make(chan struct{})
	go monitorEngine(eng, statusDone)

	select {
	case <-delegate.doneCh:
		slog.Info("Playback completed")
	case sig := <-sigChan:
		slog.Info("Signal received, stopping playback", "signal", sig)
		eng.Stop()
	}

	close(statusDone)
	if err := sink.Stop(); err != nil {
		slog.Warn("failed to stop output stream", "error", err)
	}

	slog.Info("Exiting")
}

// monitorEngine logs the engine's playback position every 2 seconds.
func monitorEngine(eng *engine.Engine, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t := eng.PlaybackTime()
			ms := t.Milliseconds()
			slog.Info("Playback position",
				"elapsed", fmt.Sprintf("%02d:%02d:%02d.%03d",
					ms/3600000, (ms%3600000)/60000, (ms%60000)/1000, ms%1000))
		case <-done:
			return
		}
	}
}
