// Package audio provides the PCM sample primitives shared by the capture and
// playback engines: little-endian 16-bit encode/decode, linear-interpolation
// resampling, and input level estimation.
//
// All functions operate on mono streams. The wire format throughout Voxwire
// is raw little-endian int16 PCM; floating-point samples only appear at the
// capture device boundary.
package audio

import "math"

// BytesToInt16 decodes little-endian 16-bit PCM bytes into samples.
// A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeFloat32 converts floating-point samples in [-1, 1] to little-endian
// int16 PCM. Samples outside the range are clamped first; the scaled value is
// rounded half away from zero so that quantisation is symmetric around zero.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := math.Round(float64(f) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Resample converts mono int16 samples from srcRate to dstRate using linear
// interpolation. For each output index a fractional source position is
// computed and the two neighbouring source samples are interpolated; reads
// past the end of the input are padded with zero. If the rates match (or are
// invalid) the input is returned unchanged.
//
// This is a deliberate simplicity/latency tradeoff over a band-limited
// resampler: one pass, no filter state, no added delay.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	dstLen := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		var s0, s1 int16
		if srcIdx < len(samples) {
			s0 = samples[srcIdx]
		}
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// Level computes a short-window RMS level estimate for a block of
// floating-point samples, normalised by reference and clamped to [0, 1].
// A reference of 0.1 maps a block with 10% RMS amplitude to full scale,
// which gives a usable meter for typical speech levels.
func Level(block []float32, reference float64) float64 {
	if len(block) == 0 || reference <= 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(block)))
	level := rms / reference
	if level > 1 {
		level = 1
	}
	return level
}
