// Package session owns the dictation session lifecycle: it wires the capture
// source, activation gate, and segmentation engine together, applies the
// mode-dependent state machine, and forwards recognised text to the
// configured sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BradleyFarquharson/Listen/internal/config"
	"github.com/BradleyFarquharson/Listen/internal/errkind"
	"github.com/BradleyFarquharson/Listen/internal/hotkey"
	"github.com/BradleyFarquharson/Listen/internal/observe"
	"github.com/BradleyFarquharson/Listen/internal/segment"
	"github.com/BradleyFarquharson/Listen/internal/sink"
	"github.com/BradleyFarquharson/Listen/pkg/audio"
	"github.com/BradleyFarquharson/Listen/pkg/provider/stt"
)

// State is the session lifecycle state, derived from mode, activation, and
// lifecycle events.
type State int

const (
	StateIdle State = iota
	StateReady
	StateListening
	StateMuted
	StateRecording
	StateStopped
	StateQuit
)

// String returns the protocol name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateMuted:
		return "muted"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateQuit:
		return "quit"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status returns the user-facing status banner for interactive mode.
func (s State) Status() string {
	switch s {
	case StateListening:
		return "[LISTENING]"
	case StateMuted:
		return "[MUTED]"
	case StateReady:
		return "[READY]"
	case StateRecording:
		return "[RECORDING...]"
	case StateStopped:
		return "[STOPPED]"
	}
	return "[" + strings.ToUpper(s.String()) + "]"
}

// FrameSource is the capture dependency of the controller: a stream of
// frames plus a teardown that closes the stream and, with it, the channel.
type FrameSource interface {
	Frames() <-chan audio.Frame
	Close() error
}

// OpenSource opens a capture source for the given configuration. Injected so
// tests can run the full session without audio hardware.
type OpenSource func(cfg config.Config) (FrameSource, error)

// Controller multiplexes control from hotkeys and the command channel over
// one capture session at a time. All methods are safe for concurrent use.
type Controller struct {
	openSource OpenSource
	rec        stt.Recognizer
	metrics    *observe.Metrics

	onState func(State)
	onError func(error)

	mu     sync.Mutex
	cfg    config.Config
	state  State
	gate   *segment.Gate
	source FrameSource
	group  *errgroup.Group
	cancel context.CancelFunc
	sinks  []sink.Sink
}

// Option configures a Controller.
type Option func(*Controller)

// WithSinks sets the destinations for recognised text. The controller does
// not close them; their owner does.
func WithSinks(sinks ...sink.Sink) Option {
	return func(c *Controller) { c.sinks = sinks }
}

// WithStateHook registers fn to run on every state transition. Called
// without internal locks held; must not block for long.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithErrorHook registers fn to run when a recognize call or the consumer
// loop fails. The session keeps running after the hook returns.
func WithErrorHook(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithMetrics overrides the metrics instance, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller in the idle state.
func New(cfg config.Config, rec stt.Recognizer, open OpenSource, opts ...Option) *Controller {
	c := &Controller{
		openSource: open,
		rec:        rec,
		metrics:    observe.DefaultMetrics(),
		cfg:        cfg,
		state:      StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the activation gate is currently open. False when
// no session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate != nil && c.gate.Active()
}

// Config returns the current configuration snapshot.
func (c *Controller) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ModelLoaded reports whether the transcription model is resident.
func (c *Controller) ModelLoaded() bool { return c.rec.Loaded() }

// LoadModel loads the transcription model if needed and returns the
// negotiated capabilities. Safe to call concurrently; the load happens once.
func (c *Controller) LoadModel(ctx context.Context) (stt.Capabilities, error) {
	return c.rec.Load(ctx)
}

// Start opens the capture source and launches the segmentation and consumer
// goroutines. In toggle-mute mode the session starts listening (gate open);
// in push-to-talk it starts ready (gate closed).
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.source != nil {
		c.mu.Unlock()
		return errkind.New(errkind.State, "session already running")
	}
	cfg := c.cfg

	src, err := c.openSource(cfg)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	gate := segment.NewGate(cfg.Mode == config.ModeToggleMute)
	seg := segment.New(src.Frames(), gate, segment.Params{
		EnergyThreshold: cfg.EnergyThreshold,
		MinSpeech:       time.Duration(cfg.MinSpeechMs) * time.Millisecond,
		MinSilence:      time.Duration(cfg.MinSilenceMs) * time.Millisecond,
	}, segment.WithSegmentCallback(func() {
		c.metrics.SegmentsEmitted.Add(context.Background(), 1)
	}))

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return seg.Run(gctx) })
	g.Go(func() error { return c.consume(gctx, seg.Segments()) })

	c.gate = gate
	c.source = src
	c.group = g
	c.cancel = cancel

	next := StateListening
	if cfg.Mode == config.ModePushToTalk {
		next = StateReady
	}
	c.state = next
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session started", "mode", cfg.Mode, "state", next)
	c.notify(next)
	return nil
}

// Stop tears down the capture session: the source is closed first so the
// frame channel drains and any in-progress speech is flushed, then the
// worker goroutines are joined. Idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.source == nil {
		c.mu.Unlock()
		return nil
	}
	src, g, cancel := c.source, c.group, c.cancel
	c.source, c.group, c.cancel = nil, nil, nil
	c.gate = nil
	c.state = StateStopped
	c.mu.Unlock()

	closeErr := src.Close()
	waitErr := g.Wait()
	cancel()
	if errors.Is(waitErr, context.Canceled) {
		waitErr = nil
	}

	c.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session stopped")
	c.notify(StateStopped)
	return errors.Join(closeErr, waitErr)
}

// Quit stops any running session and moves to the terminal quit state.
func (c *Controller) Quit() error {
	err := c.Stop()
	c.mu.Lock()
	c.state = StateQuit
	c.mu.Unlock()
	c.notify(StateQuit)
	return err
}

// SetActive opens or closes the activation gate directly, as driven by the
// command channel. Fails when no session is running.
func (c *Controller) SetActive(active bool) error {
	c.mu.Lock()
	if c.gate == nil {
		c.mu.Unlock()
		return errkind.New(errkind.State, "no active session")
	}
	c.gate.Set(active)
	next := c.activationState(active)
	c.state = next
	c.mu.Unlock()
	c.notify(next)
	return nil
}

// HandleChord applies a hotkey event to the state machine. In toggle-mute
// mode each satisfied chord flips activation; in push-to-talk activation
// tracks the chord hold directly.
func (c *Controller) HandleChord(ev hotkey.Event) {
	c.mu.Lock()
	if c.gate == nil {
		c.mu.Unlock()
		return
	}

	var next State
	fired := false
	switch c.cfg.Mode {
	case config.ModeToggleMute:
		if ev == hotkey.EventChordSatisfied {
			next = c.activationState(c.gate.Toggle())
			fired = true
		}
	case config.ModePushToTalk:
		switch {
		case ev == hotkey.EventChordSatisfied && c.state == StateReady:
			c.gate.Set(true)
			next = StateRecording
			fired = true
		case ev == hotkey.EventChordBroken && c.state == StateRecording:
			c.gate.Set(false)
			next = StateReady
			fired = true
		}
	}
	if fired {
		c.state = next
	}
	c.mu.Unlock()

	if fired {
		c.notify(next)
	}
}

// SetMode replaces the configured mode. Capture keeps running; the new mode
// governs subsequent chord handling and activation.
func (c *Controller) SetMode(m config.Mode) error {
	if !m.IsValid() {
		return errkind.Newf(errkind.Config, "unknown mode %q", m)
	}
	c.mu.Lock()
	c.cfg = c.cfg.WithMode(m)
	c.mu.Unlock()
	return nil
}

// SetHotkey replaces the configured chord spec after validating it.
func (c *Controller) SetHotkey(spec string) error {
	if _, err := hotkey.ParseChord(spec); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = c.cfg.WithHotkey(spec)
	c.mu.Unlock()
	return nil
}

// SetDevice replaces the configured capture device index; nil selects the
// system default. Takes effect at the next Start.
func (c *Controller) SetDevice(index *int) error {
	c.mu.Lock()
	c.cfg = c.cfg.WithDevice(index)
	c.mu.Unlock()
	return nil
}

// activationState maps a gate value to the session state for the current
// mode. Caller holds c.mu.
func (c *Controller) activationState(active bool) State {
	if c.cfg.Mode == config.ModePushToTalk {
		if active {
			return StateRecording
		}
		return StateReady
	}
	if active {
		return StateListening
	}
	return StateMuted
}

func (c *Controller) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Controller) reportError(err error) {
	slog.Error("session error", "err", err)
	if c.onError != nil {
		c.onError(err)
	}
}

// consume forwards each emitted segment to the recognizer and writes the
// trimmed result to every sink. A failed recognize call is reported and the
// loop continues; an unexpected panic is caught at the loop boundary and
// reported without crashing the process.
func (c *Controller) consume(ctx context.Context, segments <-chan segment.Segment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session: consumer loop panic: %v", r)
			c.reportError(err)
			// Keep draining so the segmenter can exit.
			for range segments {
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case seg, open := <-segments:
			if !open {
				return nil
			}
			c.handleSegment(ctx, seg)
		}
	}
}

func (c *Controller) handleSegment(ctx context.Context, seg segment.Segment) {
	start := time.Now()
	text, err := c.rec.Recognize(ctx, seg.Samples, seg.SampleRate)
	c.metrics.RecordRecognize(ctx, time.Since(start).Seconds(), errkind.KindOf(err))
	if err != nil {
		c.reportError(fmt.Errorf("recognize segment (%s): %w", seg.Duration(), err))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	slog.Debug("transcribed segment",
		"duration", seg.Duration(), "latency", time.Since(start), "chars", len(text))

	c.mu.Lock()
	sinks := c.sinks
	c.mu.Unlock()
	for _, s := range sinks {
		if werr := s.WriteText(text); werr != nil {
			c.reportError(fmt.Errorf("write transcription: %w", werr))
		}
	}
}
