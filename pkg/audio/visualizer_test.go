package audio_test

import (
	"testing"

	"github.com/MrWong99/verbe/pkg/audio"
)

func TestVisualize_Silence(t *testing.T) {
	frame := audio.Visualize(audio.Buffer{
		Samples: make([]float32, 1024),
		Format:  audio.Format{SampleRate: 48000, Channels: 1},
	})
	for i, v := range frame {
		if v != 0 {
			t.Errorf("band %d = %v, want 0", i, v)
		}
	}
}

func TestVisualize_BandRMS(t *testing.T) {
	// Band i holds a constant amplitude of i*0.025; RMS*5 = i*0.125.
	samples := make([]float32, 1024)
	per := len(samples) / audio.VisualizerBands
	for band := range audio.VisualizerBands {
		for j := range per {
			v := float32(band) * 0.025
			if j%2 == 1 {
				v = -v
			}
			samples[band*per+j] = v
		}
	}

	frame := audio.Visualize(audio.Buffer{Samples: samples, Format: audio.Format{SampleRate: 16000, Channels: 1}})
	for band, got := range frame {
		want := float32(band) * 0.125
		if diff := got - want; diff > 1e-4 || diff < -1e-4 {
			t.Errorf("band %d = %v, want %v", band, got, want)
		}
	}
}

func TestVisualize_ClampsToOne(t *testing.T) {
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = 0.9
	}
	frame := audio.Visualize(audio.Buffer{Samples: samples, Format: audio.Format{SampleRate: 48000, Channels: 2}})
	for i, v := range frame {
		if v != 1 {
			t.Errorf("band %d = %v, want 1", i, v)
		}
	}
}

func TestVisualize_TooShort(t *testing.T) {
	frame := audio.Visualize(audio.Buffer{Samples: []float32{1, 1, 1}, Format: audio.Format{SampleRate: 16000, Channels: 1}})
	if frame != (audio.VisualizerFrame{}) {
		t.Errorf("frame = %v, want zero", frame)
	}
}
