package audio

// Sample rates used by the voice pipelines.
const (
	// CaptureRate is the rate of PCM sent to the remote session.
	CaptureRate = 16000

	// PlaybackRate is the rate of PCM received from the remote session.
	PlaybackRate = 24000
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Buffer is one block of interleaved float32 samples in [-1, 1] as delivered
// by an input device.
type Buffer struct {
	Samples []float32
	Format  Format
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Format.Channels <= 0 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Format.Channels
}
