package audio

import (
	"fmt"
	"math"
)

// DecodePCM converts little-endian PCM bytes to float32 samples in [-1, 1].
// Supported bit depths: 8 (unsigned), 16 (signed), 32 (IEEE float).
func DecodePCM(data []byte, bitDepth int) ([]float32, error) {
	switch bitDepth {
	case 8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil
	case 16:
		out := make([]float32, len(data)/2)
		for i := range out {
			sample := int16(data[2*i]) | int16(data[2*i+1])<<8
			out[i] = float32(sample) / 32768
		}
		return out, nil
	case 32:
		out := make([]float32, len(data)/4)
		for i := range out {
			j := 4 * i
			bits := uint32(data[j]) | uint32(data[j+1])<<8 | uint32(data[j+2])<<16 | uint32(data[j+3])<<24
			out[i] = math.Float32frombits(bits)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, bitDepth)
	}
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// RMS computes the root mean square of a block of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
