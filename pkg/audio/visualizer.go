package audio

import "math"

// VisualizerBands is the number of amplitude bands in a [VisualizerFrame].
const VisualizerBands = 8

// visualizerGain scales raw RMS so that ordinary speech fills the meter.
const visualizerGain = 5

// VisualizerFrame is a fixed-length amplitude vector in [0, 1] used to drive
// audio-level feedback. It is recomputed per input buffer and never persisted.
type VisualizerFrame [VisualizerBands]float32

// Visualize splits the mono mix of buf into [VisualizerBands] equal time
// slices and returns the root-mean-square amplitude of each, multiplied by a
// fixed gain and clamped to [0, 1]. Samples that do not divide evenly into
// the bands are ignored.
func Visualize(buf Buffer) VisualizerFrame {
	var frame VisualizerFrame

	mono := DownmixFloat32(buf.Samples, buf.Format.Channels)
	per := len(mono) / VisualizerBands
	if per == 0 {
		return frame
	}

	for band := range VisualizerBands {
		var sum float64
		for _, s := range mono[band*per : (band+1)*per] {
			sum += float64(s) * float64(s)
		}
		rms := math.Sqrt(sum / float64(per))
		frame[band] = clamp(float32(rms*visualizerGain), 0, 1)
	}
	return frame
}
