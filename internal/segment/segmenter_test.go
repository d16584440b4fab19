package segment_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradleyFarquharson/Listen/internal/segment"
	"github.com/BradleyFarquharson/Listen/pkg/audio"
)

const testRate = 16000

func speechFrame() audio.Frame {
	samples := make([]float32, audio.FrameSize(testRate))
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.Frame{Samples: samples, SampleRate: testRate}
}

func silenceFrame() audio.Frame {
	return audio.Frame{Samples: make([]float32, audio.FrameSize(testRate)), SampleRate: testRate}
}

func defaultParams() segment.Params {
	return segment.Params{
		EnergyThreshold: 0.01,
		MinSpeech:       250 * time.Millisecond,
		MinSilence:      700 * time.Millisecond,
	}
}

// run feeds frames through a fresh segmenter and collects everything it
// emits until the frame channel closes.
func run(t *testing.T, gate *segment.Gate, params segment.Params, frames []audio.Frame) []segment.Segment {
	t.Helper()
	in := make(chan audio.Frame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)

	seg := segment.New(in, gate, params)
	done := make(chan error, 1)
	go func() { done <- seg.Run(context.Background()) }()

	var out []segment.Segment
	for s := range seg.Segments() {
		out = append(out, s)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	return out
}

func repeat(f audio.Frame, n int) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = f
	}
	return frames
}

func TestSegmenter_SpeechThenSilenceEmitsOneSegment(t *testing.T) {
	t.Parallel()
	// 10 speech frames (300 ms ≥ min_speech) + 24 silence frames (720 ms ≥
	// min_silence) must flush exactly one segment of 34 frames.
	frames := append(repeat(speechFrame(), 10), repeat(silenceFrame(), 24)...)
	out := run(t, segment.NewGate(true), defaultParams(), frames)
	if len(out) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(out))
	}
	wantSamples := 34 * audio.FrameSize(testRate)
	if len(out[0].Samples) != wantSamples {
		t.Errorf("segment should include trailing silence: got %d samples, want %d",
			len(out[0].Samples), wantSamples)
	}
}

func TestSegmenter_ShortBurstIsDiscarded(t *testing.T) {
	t.Parallel()
	// 5 speech frames = 150 ms < min_speech 250 ms: flushed but rejected.
	frames := append(repeat(speechFrame(), 5), repeat(silenceFrame(), 24)...)
	out := run(t, segment.NewGate(true), defaultParams(), frames)
	if len(out) != 0 {
		t.Fatalf("expected no segments for sub-threshold burst, got %d", len(out))
	}
}

func TestSegmenter_InsufficientSilenceDoesNotFlushEarly(t *testing.T) {
	t.Parallel()
	// 23 silence frames = 690 ms < min_silence 700 ms: no flush until the
	// channel closes, at which point the pending speech is flushed once.
	frames := append(repeat(speechFrame(), 10), repeat(silenceFrame(), 23)...)
	out := run(t, segment.NewGate(true), defaultParams(), frames)
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 segment (final flush), got %d", len(out))
	}
}

func TestSegmenter_TwoBurstsYieldTwoSegments(t *testing.T) {
	t.Parallel()
	burst := append(repeat(speechFrame(), 10), repeat(silenceFrame(), 24)...)
	frames := append(append([]audio.Frame{}, burst...), burst...)
	out := run(t, segment.NewGate(true), defaultParams(), frames)
	if len(out) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(out))
	}
	// Each segment contains only its own frames.
	wantSamples := 34 * audio.FrameSize(testRate)
	for i, s := range out {
		if len(s.Samples) != wantSamples {
			t.Errorf("segment %d: got %d samples, want %d", i, len(s.Samples), wantSamples)
		}
	}
}

func TestSegmenter_LeadingSilenceIsNotBuffered(t *testing.T) {
	t.Parallel()
	frames := append(repeat(silenceFrame(), 50), repeat(speechFrame(), 10)...)
	frames = append(frames, repeat(silenceFrame(), 24)...)
	out := run(t, segment.NewGate(true), defaultParams(), frames)
	if len(out) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(out))
	}
	wantSamples := 34 * audio.FrameSize(testRate)
	if len(out[0].Samples) != wantSamples {
		t.Errorf("leading silence must not be included: got %d samples, want %d",
			len(out[0].Samples), wantSamples)
	}
}

func TestSegmenter_InactiveGateDiscardsFrames(t *testing.T) {
	t.Parallel()
	frames := append(repeat(speechFrame(), 10), repeat(silenceFrame(), 24)...)
	out := run(t, segment.NewGate(false), defaultParams(), frames)
	if len(out) != 0 {
		t.Fatalf("inactive gate must produce no segments, got %d", len(out))
	}
}

func TestSegmenter_DeactivationMidSpeechFlushesBuffered(t *testing.T) {
	t.Parallel()
	gate := segment.NewGate(true)

	in := make(chan audio.Frame)
	seg := segment.New(in, gate, defaultParams())
	go seg.Run(context.Background())

	// 10 speech frames while active.
	for range 10 {
		in <- speechFrame()
	}
	// Deactivate, then deliver one more frame to trigger the flush path.
	gate.Set(false)
	in <- silenceFrame()

	select {
	case s := <-seg.Segments():
		wantSamples := 10 * audio.FrameSize(testRate)
		if len(s.Samples) != wantSamples {
			t.Errorf("got %d samples, want %d (speech only, no trailing silence)",
				len(s.Samples), wantSamples)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flush on deactivation")
	}
	close(in)
}

func TestSegmenter_DeactivationWithShortBufferDiscards(t *testing.T) {
	t.Parallel()
	gate := segment.NewGate(true)

	in := make(chan audio.Frame)
	seg := segment.New(in, gate, defaultParams())
	done := make(chan error, 1)
	go func() { done <- seg.Run(context.Background()) }()

	for range 3 {
		in <- speechFrame()
	}
	gate.Set(false)
	in <- silenceFrame()
	close(in)

	var out []segment.Segment
	for s := range seg.Segments() {
		out = append(out, s)
	}
	<-done
	if len(out) != 0 {
		t.Fatalf("3-frame buffer is below min_speech and must be discarded, got %d segments", len(out))
	}
}

func TestSegmenter_SpeechResetsSilenceCounter(t *testing.T) {
	t.Parallel()
	// speech, almost-enough silence, speech again, then full silence:
	// must yield exactly one segment covering everything buffered.
	frames := repeat(speechFrame(), 10)
	frames = append(frames, repeat(silenceFrame(), 20)...) // 600 ms < 700 ms
	frames = append(frames, repeat(speechFrame(), 10)...)
	frames = append(frames, repeat(silenceFrame(), 24)...)
	out := run(t, segment.NewGate(true), defaultParams(), frames)
	if len(out) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(out))
	}
	wantSamples := 64 * audio.FrameSize(testRate)
	if len(out[0].Samples) != wantSamples {
		t.Errorf("got %d samples, want %d", len(out[0].Samples), wantSamples)
	}
}

func TestGate_Toggle(t *testing.T) {
	t.Parallel()
	g := segment.NewGate(true)
	if got := g.Toggle(); got {
		t.Error("first toggle should return false")
	}
	if got := g.Toggle(); !got {
		t.Error("second toggle should return true")
	}
	if !g.Active() {
		t.Error("gate should be active after two toggles")
	}
}

func TestSegmenter_CancelStopsRun(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan audio.Frame)
	seg := segment.New(in, segment.NewGate(true), defaultParams())
	done := make(chan error, 1)
	go func() { done <- seg.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
