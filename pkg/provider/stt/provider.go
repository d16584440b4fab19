// Package stt defines the Recognizer interface for transcription backends.
//
// A recognizer wraps an acoustic model and exposes two operations: buffer
// recognition for live dictation segments, and file recognition for batch
// transcription. Model loading is deferred until Load is called; it is
// memoized and guarded, so concurrent callers cannot trigger a double load.
// Optional capabilities (voice-activity chaining, timestamped spans) are
// negotiated at load time: Load reports which of the requested features were
// actually attached, and unsupported features degrade silently with a
// logged notice rather than failing.
package stt

import (
	"context"
	"time"
)

// Capabilities reports which optional features a recognizer attached at
// load time.
type Capabilities struct {
	// VAD indicates model-side voice-activity chaining for file input.
	VAD bool

	// Timestamps indicates per-span timing in recognition results.
	Timestamps bool
}

// TimedSpan is one recognised span with its position in the source audio.
type TimedSpan struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Recognizer is the abstraction over any transcription backend.
//
// Implementations must be safe for concurrent use; Load may be called from
// multiple goroutines and must load the model exactly once per process
// lifetime (or once per explicit reload).
type Recognizer interface {
	// Load loads the model if it is not already resident and returns the
	// negotiated capabilities. Subsequent calls return the memoized result.
	Load(ctx context.Context) (Capabilities, error)

	// Loaded reports whether the model is resident without triggering a load.
	Loaded() bool

	// Recognize transcribes a mono float32 buffer at the given sample rate
	// and returns the raw text. Loads the model on first use.
	Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error)

	// RecognizeFile transcribes an audio file and returns the recognised
	// spans in order. Span timing is zero when the Timestamps capability
	// was not attached.
	RecognizeFile(ctx context.Context, path string) ([]TimedSpan, error)

	// Close releases the model. After Close the recognizer must not be used.
	Close() error
}
