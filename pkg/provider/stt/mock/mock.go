// Package mock provides a scriptable stt.Recognizer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/BradleyFarquharson/Listen/pkg/provider/stt"
)

// Recognizer is a test double. The function fields default to benign
// behaviour; tests override the ones they care about.
type Recognizer struct {
	mu     sync.Mutex
	loaded bool

	// LoadErr is returned by Load when set.
	LoadErr error

	// Caps is returned by Load on success.
	Caps stt.Capabilities

	// RecognizeFunc handles Recognize calls. Defaults to returning "".
	RecognizeFunc func(samples []float32, sampleRate int) (string, error)

	// RecognizeFileFunc handles RecognizeFile calls.
	RecognizeFileFunc func(path string) ([]stt.TimedSpan, error)

	// Calls records every buffer passed to Recognize.
	Calls [][]float32
}

var _ stt.Recognizer = (*Recognizer)(nil)

func (m *Recognizer) Load(_ context.Context) (stt.Capabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return stt.Capabilities{}, m.LoadErr
	}
	m.loaded = true
	return m.Caps, nil
}

func (m *Recognizer) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Recognizer) Recognize(_ context.Context, samples []float32, sampleRate int) (string, error) {
	m.mu.Lock()
	m.loaded = true
	m.Calls = append(m.Calls, samples)
	fn := m.RecognizeFunc
	m.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(samples, sampleRate)
}

func (m *Recognizer) RecognizeFile(_ context.Context, path string) ([]stt.TimedSpan, error) {
	if m.RecognizeFileFunc == nil {
		return nil, nil
	}
	return m.RecognizeFileFunc(path)
}

func (m *Recognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	return nil
}
