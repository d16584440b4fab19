package audio

import "time"

// Frame is a single fixed-duration block of captured audio flowing through
// the pipeline. Frames are the atomic unit of transport between the capture
// callback and the segmentation loop.
type Frame struct {
	// Samples holds mono float32 PCM normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int
}

// Duration returns the play time covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// FrameDuration is the fixed capture granularity of the pipeline.
const FrameDuration = 30 * time.Millisecond

// FrameSize returns the number of samples in one capture frame at the given
// sample rate. 16000 Hz yields 480 samples.
func FrameSize(sampleRate int) int {
	return int(time.Duration(sampleRate) * FrameDuration / time.Second)
}
