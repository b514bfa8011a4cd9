package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/verbe/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	pcm := samplesToBytes([]int16{1000, 2000})
	got := bytesToSamples(audio.ResampleMono16(pcm, 16000, 48000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_OutputLength(t *testing.T) {
	t.Parallel()

	rates := []int{8000, 16000, 22050, 24000, 44100, 48000, 96000}
	sizes := []int{1, 7, 160, 1024, 4096, 4097}

	for _, rate := range rates {
		for _, k := range sizes {
			pcm := make([]byte, k*2)
			for i := range k {
				v := int16((i * 7919) % 65536)
				binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
			}
			out := audio.ResampleMono16(pcm, rate, audio.CaptureRate)
			want := k * audio.CaptureRate / rate
			if rate == audio.CaptureRate {
				want = k
			}
			if got := len(out) / 2; got < want-1 || got > want+1 {
				t.Errorf("rate=%d k=%d: got %d samples, want %d (±1)", rate, k, got, want)
			}
		}
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
		t.Errorf("srcRate=0: got %d bytes, want input unchanged", len(out))
	}
	if out := audio.ResampleMono16(pcm, 16000, -1); len(out) != len(pcm) {
		t.Errorf("dstRate<0: got %d bytes, want input unchanged", len(out))
	}
}

func TestPCM16Float32RoundTrip(t *testing.T) {
	t.Parallel()
	for x := math.MinInt16; x <= math.MaxInt16; x++ {
		in := samplesToBytes([]int16{int16(x)})
		out := bytesToSamples(audio.Float32ToPCM16(audio.PCM16ToFloat32(in)))
		if d := int(out[0]) - x; d < -1 || d > 1 {
			t.Fatalf("round trip of %d gave %d (off by %d)", x, out[0], d)
		}
	}
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16([]float32{2, -2, 0, 1, -1}))
	want := []int16{32767, -32767, 0, 32767, -32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_OddByte(t *testing.T) {
	got := audio.PCM16ToFloat32([]byte{0x00, 0x40, 0x7f})
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if got[0] != 0.5 {
		t.Errorf("sample = %v, want 0.5", got[0])
	}
}

func TestDownmixFloat32(t *testing.T) {
	got := audio.DownmixFloat32([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
	want := []float32{0.5, 0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}

	mono := []float32{0.1, 0.2}
	if out := audio.DownmixFloat32(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestFormatConverter_Convert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		format   audio.Format
		frames   int
		wantSamp int
	}{
		{name: "48k stereo", format: audio.Format{SampleRate: 48000, Channels: 2}, frames: 4096, wantSamp: 4096 * 16000 / 48000},
		{name: "44.1k mono", format: audio.Format{SampleRate: 44100, Channels: 1}, frames: 4096, wantSamp: 4096 * 16000 / 44100},
		{name: "16k mono passthrough", format: audio.Format{SampleRate: 16000, Channels: 1}, frames: 4096, wantSamp: 4096},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conv := audio.FormatConverter{TargetRate: audio.CaptureRate}
			samples := make([]float32, tc.frames*tc.format.Channels)
			for i := range samples {
				samples[i] = float32(math.Sin(float64(i) / 10))
			}
			out := conv.Convert(audio.Buffer{Samples: samples, Format: tc.format})
			if got := len(out) / 2; got < tc.wantSamp-1 || got > tc.wantSamp+1 {
				t.Errorf("got %d samples, want %d", got, tc.wantSamp)
			}
		})
	}
}

func TestFormatConverter_MissingFormat(t *testing.T) {
	conv := audio.FormatConverter{TargetRate: audio.CaptureRate}
	if out := conv.Convert(audio.Buffer{Samples: []float32{0.1, 0.2}}); out != nil {
		t.Errorf("expected nil for buffer without format, got %d bytes", len(out))
	}
}
