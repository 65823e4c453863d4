// Package pcmconv converts between the engine's fixed planar float32
// representation (pkg/pcmfmt.Buffers) and the interleaved fixed-point byte
// layouts codec libraries and PortAudio actually speak. No library in the
// retrieval pack does this bit-depth/interleaving conversion itself (each
// codec wrapper does its own ad hoc byte packing, as pkg/decoders/wav's
// original DecodeSamples shows) so it is built once here with plain shifts
// and masks for the fixed-width little-endian packing; the package imports
// nothing beyond pkg/pcmfmt.
package pcmconv

import "github.com/drgolem/gapless/pkg/pcmfmt"

const (
	maxInt16 = float32(1<<15 - 1)
	maxInt24 = float32(1<<23 - 1)
	maxInt32 = float32(1<<31 - 1)
)

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Int16ToPlanarFloat32 de-interleaves n frames of 16-bit little-endian PCM
// from src into dst (one []float32 per channel, already sized).
func Int16ToPlanarFloat32(src []byte, dst pcmfmt.Buffers, n int) {
	channels := len(dst)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			v := int16(uint16(src[off]) | uint16(src[off+1])<<8)
			dst[ch][i] = float32(v) / maxInt16
		}
	}
}

// PlanarFloat32ToInt16 interleaves n frames from src (planar) into dst as
// 16-bit little-endian PCM. dst must be at least n*len(src)*2 bytes.
func PlanarFloat32ToInt16(src pcmfmt.Buffers, dst []byte, n int) {
	channels := len(src)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			v := int16(clamp(src[ch][i]) * maxInt16)
			off := (i*channels + ch) * 2
			dst[off] = byte(v)
			dst[off+1] = byte(v >> 8)
		}
	}
}

// Int24ToPlanarFloat32 de-interleaves n frames of signed 24-bit
// little-endian PCM from src into dst.
func Int24ToPlanarFloat32(src []byte, dst pcmfmt.Buffers, n int) {
	channels := len(dst)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 3
			raw := int32(src[off]) | int32(src[off+1])<<8 | int32(src[off+2])<<16
			if raw&0x800000 != 0 {
				raw |= ^int32(0xFFFFFF)
			}
			dst[ch][i] = float32(raw) / maxInt24
		}
	}
}

// Int32ToPlanarFloat32 de-interleaves n frames of signed 32-bit
// little-endian PCM from src into dst.
func Int32ToPlanarFloat32(src []byte, dst pcmfmt.Buffers, n int) {
	channels := len(dst)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 4
			raw := int32(uint32(src[off]) | uint32(src[off+1])<<8 | uint32(src[off+2])<<16 | uint32(src[off+3])<<24)
			dst[ch][i] = float32(raw) / maxInt32
		}
	}
}
