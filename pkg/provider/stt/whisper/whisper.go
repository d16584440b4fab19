// This file contains the Recognizer implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

// Package whisper implements stt.Recognizer on top of local whisper.cpp
// inference.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
	"github.com/BradleyFarquharson/Listen/pkg/audio"
	"github.com/BradleyFarquharson/Listen/pkg/provider/stt"
)

// modelSampleRate is the only rate whisper.cpp accepts; other input is
// resampled before inference.
const modelSampleRate = 16000

const defaultLanguage = "en"

// Compile-time assertion that Recognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer loads a whisper.cpp model lazily and shares it across calls.
// The model is loaded exactly once per process lifetime; each inference
// creates its own whisper context, so concurrent Recognize calls do not
// interfere.
type Recognizer struct {
	modelPath string
	language  string

	wantVAD        bool
	wantTimestamps bool

	loadOnce sync.Once
	loaded   atomic.Bool
	model    whisperlib.Model
	caps     stt.Capabilities
	loadErr  error

	mu     sync.Mutex
	closed bool
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g. "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithVAD requests model-side voice-activity chaining for file input.
// whisper.cpp does not expose this; Load reports it as not attached.
func WithVAD() Option {
	return func(r *Recognizer) { r.wantVAD = true }
}

// WithTimestamps requests per-span timing in recognition results.
func WithTimestamps() Option {
	return func(r *Recognizer) { r.wantTimestamps = true }
}

// New creates a Recognizer for the ggml model file at modelPath. The model
// is not loaded until Load or the first Recognize call.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errkind.New(errkind.Model, "model path must not be empty")
	}
	r := &Recognizer{
		modelPath: modelPath,
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Load loads the model if needed and returns the negotiated capabilities.
// The load is memoized: concurrent callers block on the same load and all
// observe the same result.
func (r *Recognizer) Load(ctx context.Context) (stt.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return stt.Capabilities{}, fmt.Errorf("whisper: context cancelled before load: %w", err)
	}
	r.loadOnce.Do(func() {
		model, err := whisperlib.New(r.modelPath)
		if err != nil {
			r.loadErr = errkind.Wrap(errkind.Model,
				fmt.Sprintf("load model %q", r.modelPath), err)
			return
		}
		r.model = model

		caps := stt.Capabilities{Timestamps: r.wantTimestamps}
		if r.wantVAD {
			// Requested but unavailable: degrade with a notice, not an error.
			slog.Info("whisper: VAD chaining not available, continuing without it")
		}
		r.caps = caps
		r.loaded.Store(true)
		slog.Debug("whisper model loaded", "path", r.modelPath, "language", r.language)
	})
	return r.caps, r.loadErr
}

// Loaded reports whether the model is resident.
func (r *Recognizer) Loaded() bool { return r.loaded.Load() }

// Recognize transcribes a mono float32 buffer. Input at a rate other than
// 16 kHz is resampled first. Loads the model on first use.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if _, err := r.Load(ctx); err != nil {
		return "", err
	}
	if sampleRate != modelSampleRate {
		samples = audio.ResampleLinear(samples, sampleRate, modelSampleRate)
	}
	spans, err := r.infer(ctx, samples)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(spans))
	for _, s := range spans {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " "), nil
}

// RecognizeFile decodes a WAV file and transcribes it. Span timing is
// populated only when timestamps were attached at load.
func (r *Recognizer) RecognizeFile(ctx context.Context, path string) ([]stt.TimedSpan, error) {
	if _, err := r.Load(ctx); err != nil {
		return nil, err
	}
	samples, rate, err := audio.ReadWAV(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Model, fmt.Sprintf("read %q", path), err)
	}
	if rate != modelSampleRate {
		samples = audio.ResampleLinear(samples, rate, modelSampleRate)
	}
	return r.infer(ctx, samples)
}

// Close releases the model. Calling Close more than once is safe.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.loaded.Store(false)
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// infer runs whisper.cpp inference on 16 kHz mono samples using a fresh
// context. Each context is NOT thread-safe, but the model can be shared
// across goroutines.
func (r *Recognizer) infer(ctx context.Context, samples []float32) ([]stt.TimedSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, errkind.Wrap(errkind.Model, "create context", err)
	}

	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", r.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, errkind.Wrap(errkind.Model, "process audio", err)
	}

	var spans []stt.TimedSpan
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.Model, "read segment", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		span := stt.TimedSpan{Text: text}
		if r.caps.Timestamps {
			span.Start = seg.Start
			span.End = seg.End
		}
		spans = append(spans, span)
	}
	return spans, nil
}
