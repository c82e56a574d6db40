package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float32 samples in [-1,1] to 16-bit little-endian PCM.
// Out-of-range input is clamped; encoding never fails.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes back to float32 samples.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(v) / 32768
	}
	return out
}

// Resample converts samples from one rate to another using linear
// interpolation. Input is returned unchanged when the rates are equal,
// non-finite, or non-positive. Output length is round(len*to/from), minimum 1.
func Resample(samples []float32, fromRate, toRate float64) []float32 {
	if len(samples) == 0 {
		return samples
	}
	if fromRate == toRate {
		return samples
	}
	if fromRate <= 0 || toRate <= 0 ||
		math.IsNaN(fromRate) || math.IsNaN(toRate) ||
		math.IsInf(fromRate, 0) || math.IsInf(toRate, 0) {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * toRate / fromRate))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	ratio := fromRate / toRate
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// rms computes the root mean square of a sample block.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// smooth applies asymmetric one-pole smoothing: the level chases the target
// faster on the way up than on the way down.
func smooth(level, target, rise, fall float64) float64 {
	if target > level {
		return level + (target-level)*rise
	}
	return level + (target-level)*fall
}
