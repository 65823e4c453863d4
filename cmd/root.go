package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gapless",
	Short: "Gapless audio playback engine and lock-free ringbuffer toolkit",
	Long: `gapless - a gapless PCM audio player engine built around a lock-free
SPSC ring buffer, a realtime render callback, and a decode-ahead queue that
chains from one decoder straight into the next with no gap, click, or
silence at track boundaries.

Features:
  - Lock-free SPSC ring buffer (planar float32) shared between a decode
    goroutine and a realtime render callback
  - Gapless multi-file playback via a decode-ahead queue
  - Support for MP3, FLAC, and WAV audio formats
  - Single-stream legacy player with producer/consumer metrics
  - Sample rate transformation and format conversion

Commands:
  - play: Play a single audio file with real-time status reporting
  - playlist: Play multiple audio files back to back, gaplessly
  - transform: Convert audio files to different sample rates and WAV format`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
