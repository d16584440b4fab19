// Package segment turns the raw microphone frame stream into discrete
// speech segments using an RMS-energy voice-activity heuristic.
package segment

import (
	"context"
	"time"

	"github.com/BradleyFarquharson/Listen/pkg/audio"
)

// Segment is one detected utterance: a contiguous run of speech frames plus
// the trailing silence that ended it.
type Segment struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the total play time of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Params are the segmentation thresholds.
type Params struct {
	// EnergyThreshold is the RMS level above which a frame counts as speech.
	EnergyThreshold float64

	// MinSpeech is the minimum total segment duration; shorter flushes are
	// discarded.
	MinSpeech time.Duration

	// MinSilence is the trailing-silence duration that ends an utterance.
	MinSilence time.Duration
}

// Segmenter consumes frames and emits complete segments. At most one
// Segmenter may consume a given frame channel; all buffering state is
// confined to the Run goroutine.
type Segmenter struct {
	params Params
	gate   *Gate
	frames <-chan audio.Frame
	out    chan Segment

	onSegment func()
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithSegmentCallback registers fn to run whenever a segment is emitted.
// Used for metrics; must not block.
func WithSegmentCallback(fn func()) Option {
	return func(s *Segmenter) { s.onSegment = fn }
}

// New creates a Segmenter reading frames, gated by gate.
func New(frames <-chan audio.Frame, gate *Gate, params Params, opts ...Option) *Segmenter {
	s := &Segmenter{
		params: params,
		gate:   gate,
		frames: frames,
		out:    make(chan Segment),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Segments returns the channel of emitted segments. It is closed when Run
// returns.
func (s *Segmenter) Segments() <-chan Segment { return s.out }

// Run processes frames until ctx is cancelled or the frame channel closes.
// When the channel closes (capture torn down) any in-progress speech is
// flushed through the usual accept/reject rule before the output channel is
// closed.
func (s *Segmenter) Run(ctx context.Context) error {
	defer close(s.out)

	var (
		buffer   []float32
		rate     int
		silence  time.Duration
		inSpeech bool
	)

	reset := func() {
		buffer = nil
		silence = 0
		inSpeech = false
	}

	flush := func() bool {
		if len(buffer) == 0 || !inSpeech {
			reset()
			return true
		}
		seg := Segment{Samples: buffer, SampleRate: rate}
		ok := true
		if seg.Duration() >= s.params.MinSpeech {
			select {
			case s.out <- seg:
				if s.onSegment != nil {
					s.onSegment()
				}
			case <-ctx.Done():
				ok = false
			}
		}
		reset()
		return ok
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, open := <-s.frames:
			if !open {
				flush()
				return nil
			}

			// The gate is read once and used for the whole step.
			active := s.gate.Active()
			if !active {
				if inSpeech && len(buffer) > 0 {
					if !flush() {
						return ctx.Err()
					}
				}
				continue
			}

			rate = frame.SampleRate
			isSpeech := audio.RMS(frame.Samples) > s.params.EnergyThreshold

			switch {
			case isSpeech:
				buffer = append(buffer, frame.Samples...)
				silence = 0
				inSpeech = true

			case inSpeech:
				// Trailing silence is kept so the segment ends naturally.
				buffer = append(buffer, frame.Samples...)
				silence += frame.Duration()
				if silence >= s.params.MinSilence {
					if !flush() {
						return ctx.Err()
					}
				}

			default:
				// Silence before any speech: discard.
			}
		}
	}
}
