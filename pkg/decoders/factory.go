// Package decoders selects a decoder.Decoder implementation by file
// extension, the same role pkg/decoders/factory.go's NewDecoder played for
// the old byte-oriented types.AudioDecoder.
package decoders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/drgolem/gapless/pkg/decoder"
	"github.com/drgolem/gapless/pkg/decoders/flac"
	"github.com/drgolem/gapless/pkg/decoders/mp3"
	"github.com/drgolem/gapless/pkg/decoders/wav"
)

// New returns an unopened decoder.Decoder for fileName based on its
// extension. The caller is responsible for calling Open.
func New(fileName string) (decoder.Decoder, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".mp3":
		return mp3.New(fileName), nil
	case ".flac", ".fla":
		return flac.New(fileName), nil
	case ".wav":
		return wav.New(fileName), nil
	default:
		return nil, fmt.Errorf("decoders: unsupported file format %q (supported: .mp3, .flac, .fla, .wav)", filepath.Ext(fileName))
	}
}
