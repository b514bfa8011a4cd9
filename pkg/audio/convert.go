package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter turns device buffers into little-endian mono PCM16 at the
// target rate. It logs a warning on the first format mismatch.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	TargetRate     int
	warnedMismatch sync.Once
	warnedEmpty    sync.Once
}

// Convert down-mixes buf to mono, quantises it to PCM16 and resamples it to
// c.TargetRate. Resampling K frames at rate R yields ⌊K·TargetRate/R⌋ samples.
func (c *FormatConverter) Convert(buf Buffer) []byte {
	if buf.Format.SampleRate <= 0 || buf.Format.Channels <= 0 {
		c.warnedEmpty.Do(func() {
			slog.Warn("audio format converter: buffer without format, dropping",
				"sampleRate", buf.Format.SampleRate,
				"channels", buf.Format.Channels,
			)
		})
		return nil
	}

	if buf.Format.SampleRate != c.TargetRate || buf.Format.Channels != 1 {
		c.warnedMismatch.Do(func() {
			slog.Debug("audio format mismatch: converting",
				"from", formatString(buf.Format.SampleRate, buf.Format.Channels),
				"to", formatString(c.TargetRate, 1),
			)
		})
	}

	mono := DownmixFloat32(buf.Samples, buf.Format.Channels)
	return ResampleMono16(Float32ToPCM16(mono), buf.Format.SampleRate, c.TargetRate)
}

// DownmixFloat32 averages interleaved channels into a single channel.
// Mono input is returned unchanged.
func DownmixFloat32(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Float32ToPCM16 clamps each sample to [-1, 1], scales it by 32767 and
// encodes it as little-endian int16.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(clamp(s, -1, 1) * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// PCM16ToFloat32 decodes little-endian int16 samples and divides them by
// 32768. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}

		v := int16(math.Round(float64(s0)*(1-frac) + float64(s1)*frac))
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(uint16(pcm[idx*2]) | uint16(pcm[idx*2+1])<<8)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
