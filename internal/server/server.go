// Package server implements the headless command channel: newline-delimited
// JSON commands on stdin, newline-delimited JSON events on stdout. It exists
// for UI frontends that drive the session over a pipe instead of hotkeys.
//
// Diagnostics never touch stdout; logging goes to stderr only.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/BradleyFarquharson/Listen/internal/config"
	"github.com/BradleyFarquharson/Listen/internal/session"
	"github.com/BradleyFarquharson/Listen/internal/sink"
	"github.com/BradleyFarquharson/Listen/pkg/audio/capture"
	"github.com/BradleyFarquharson/Listen/pkg/provider/stt"
)

// Command is one inbound protocol line.
type Command struct {
	Action string `json:"action"`
	Active bool   `json:"active,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Hotkey string `json:"hotkey,omitempty"`
	Device *int   `json:"device,omitempty"`
}

// Event is one outbound protocol line. Optional fields are pointers so a
// present-but-false value still serialises.
type Event struct {
	Type        string           `json:"type"`
	State       string           `json:"state,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	Hotkey      string           `json:"hotkey,omitempty"`
	Model       string           `json:"model,omitempty"`
	Device      *int             `json:"device,omitempty"`
	ModelLoaded *bool            `json:"model_loaded,omitempty"`
	Active      *bool            `json:"active,omitempty"`
	Text        string           `json:"text,omitempty"`
	Message     string           `json:"message,omitempty"`
	Devices     []capture.Device `json:"devices,omitempty"`
}

// Server reads commands, applies them to a SessionController, and writes one
// event per command.
type Server struct {
	ctrl *session.Controller

	in  io.Reader
	out io.Writer

	outMu sync.Mutex
	enc   *json.Encoder

	listDevices func() ([]capture.Device, error)
	loadModel   func(ctx context.Context, status func(string)) error
	broadcast   func(Event)
	sessOpts    []session.Option
}

// Option configures a Server.
type Option func(*Server)

// WithDeviceLister overrides device enumeration, for tests.
func WithDeviceLister(fn func() ([]capture.Device, error)) Option {
	return func(s *Server) { s.listDevices = fn }
}

// WithModelLoader overrides how download_model acquires and loads the model.
// The loader may call status to stream progress notices, which are emitted
// as status events. The default loads the controller's recognizer in place.
func WithModelLoader(fn func(ctx context.Context, status func(string)) error) Option {
	return func(s *Server) { s.loadModel = fn }
}

// WithBroadcast mirrors every outbound event to fn, e.g. a websocket
// broadcaster, in addition to the protocol stream.
func WithBroadcast(fn func(Event)) Option {
	return func(s *Server) { s.broadcast = fn }
}

// WithSessionOptions forwards extra options to the underlying controller,
// e.g. additional sinks or test metrics.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) { s.sessOpts = append(s.sessOpts, opts...) }
}

// New creates a Server. The controller is built internally so transcriptions
// and consumer-loop errors flow back out as protocol events.
func New(cfg config.Config, rec stt.Recognizer, open session.OpenSource, in io.Reader, out io.Writer, opts ...Option) *Server {
	s := &Server{
		in:          in,
		out:         out,
		listDevices: capture.ListDevices,
	}
	s.enc = json.NewEncoder(out)
	for _, o := range opts {
		o(s)
	}

	sessOpts := append([]session.Option{
		session.WithSinks(sink.Func(func(text string) error {
			s.emit(Event{Type: "transcription", Text: text})
			return nil
		})),
		session.WithErrorHook(func(err error) {
			s.emit(Event{Type: "error", Message: err.Error()})
		}),
	}, s.sessOpts...)
	s.ctrl = session.New(cfg, rec, open, sessOpts...)

	if s.loadModel == nil {
		s.loadModel = func(ctx context.Context, _ func(string)) error {
			_, err := s.ctrl.LoadModel(ctx)
			return err
		}
	}
	return s
}

// Controller exposes the underlying session controller.
func (s *Server) Controller() *session.Controller { return s.ctrl }

// emit writes one event line, serialised under a lock so concurrent
// transcription events never interleave with command replies.
func (s *Server) emit(ev Event) {
	s.outMu.Lock()
	if err := s.enc.Encode(ev); err != nil {
		slog.Error("emit event failed", "type", ev.Type, "err", err)
	}
	s.outMu.Unlock()
	if s.broadcast != nil {
		s.broadcast(ev)
	}
}

// Run emits the initial state event, then processes commands until quit, EOF,
// or context cancellation. The session is torn down before Run returns.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.ctrl.Stop(); err != nil {
			slog.Warn("teardown stop failed", "err", err)
		}
	}()

	cfg := s.ctrl.Config()
	s.emit(Event{
		Type:   "state",
		State:  s.ctrl.State().String(),
		Mode:   string(cfg.Mode),
		Hotkey: cfg.EffectiveHotkey(),
		Model:  cfg.Model,
	})

	reader := bufio.NewReaderSize(s.in, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, tooLong, err := readCommandLine(reader)
		switch {
		case tooLong:
			s.emit(Event{Type: "error", Message: "Invalid JSON"})
		default:
			if line := strings.TrimSpace(string(raw)); line != "" {
				var cmd Command
				if jsonErr := json.Unmarshal([]byte(line), &cmd); jsonErr != nil {
					s.emit(Event{Type: "error", Message: "Invalid JSON"})
				} else if s.dispatch(ctx, cmd) {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// maxCommandBytes caps a single protocol line. Longer lines are consumed and
// rejected so the command loop survives a misbehaving writer.
const maxCommandBytes = 1 << 20

// readCommandLine reads one newline-delimited line, reporting lines over
// maxCommandBytes as too long instead of failing the reader.
func readCommandLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		part, isPrefix, err := r.ReadLine()
		if !tooLong && len(part) > 0 {
			line = append(line, part...)
			if len(line) > maxCommandBytes {
				tooLong = true
				line = nil
			}
		}
		if err != nil || !isPrefix {
			return line, tooLong, err
		}
	}
}

// dispatch handles one command and reports whether the server should exit.
func (s *Server) dispatch(ctx context.Context, cmd Command) (done bool) {
	switch cmd.Action {
	case "get_devices":
		s.handleGetDevices()
	case "download_model":
		s.handleDownloadModel(ctx)
	case "start":
		s.handleStart(ctx)
	case "stop":
		if err := s.ctrl.Stop(); err != nil {
			slog.Warn("stop failed", "err", err)
		}
		s.emit(Event{Type: "state", State: session.StateStopped.String()})
	case "set_active":
		s.handleSetActive(cmd.Active)
	case "set_mode":
		s.handleSetMode(cmd.Mode)
	case "set_hotkey":
		s.handleSetHotkey(cmd.Hotkey)
	case "set_device":
		s.handleSetDevice(cmd.Device)
	case "get_state":
		s.handleGetState()
	case "quit":
		if err := s.ctrl.Quit(); err != nil {
			slog.Warn("quit teardown failed", "err", err)
		}
		s.emit(Event{Type: "state", State: session.StateQuit.String()})
		return true
	default:
		s.emit(Event{Type: "error", Message: fmt.Sprintf("Unknown action: %s", cmd.Action)})
	}
	return false
}

func (s *Server) handleGetDevices() {
	devices, err := s.listDevices()
	if err != nil {
		s.emit(Event{Type: "error", Message: err.Error()})
		return
	}
	s.emit(Event{Type: "devices", Devices: devices})
}

func (s *Server) handleDownloadModel(ctx context.Context) {
	model := s.ctrl.Config().Model
	s.emit(Event{Type: "model_loading", Model: model})
	status := func(msg string) {
		s.emit(Event{Type: "status", Message: msg})
	}
	if err := s.loadModel(ctx, status); err != nil {
		s.emit(Event{Type: "error", Message: fmt.Sprintf("Model load failed: %v", err)})
		return
	}
	s.emit(Event{Type: "model_loaded", Model: model})
}

func (s *Server) handleStart(ctx context.Context) {
	if !s.ctrl.ModelLoaded() {
		s.emit(Event{Type: "error", Message: "Model not loaded yet"})
		return
	}

	// A start while running replaces the session.
	if err := s.ctrl.Stop(); err != nil {
		slog.Warn("stop before restart failed", "err", err)
	}
	if err := s.ctrl.Start(ctx); err != nil {
		s.emit(Event{Type: "error", Message: err.Error()})
		return
	}
	cfg := s.ctrl.Config()
	s.emit(Event{
		Type:  "state",
		State: s.ctrl.State().String(),
		Mode:  string(cfg.Mode),
	})
}

func (s *Server) handleSetActive(active bool) {
	if err := s.ctrl.SetActive(active); err != nil {
		s.emit(Event{Type: "error", Message: err.Error()})
		return
	}
	s.emit(Event{Type: "state", State: s.ctrl.State().String()})
}

func (s *Server) handleSetMode(mode string) {
	m := config.Mode(mode)
	if err := s.ctrl.SetMode(m); err != nil {
		s.emit(Event{Type: "error", Message: err.Error()})
		return
	}

	// A running session resets activation to the new mode's baseline:
	// ready (inactive) for push-to-talk, listening (active) for toggle.
	state := session.StateListening
	if m == config.ModePushToTalk {
		state = session.StateReady
	}
	if err := s.ctrl.SetActive(state == session.StateListening); err == nil {
		state = s.ctrl.State()
	}
	cfg := s.ctrl.Config()
	s.emit(Event{
		Type:   "state",
		State:  state.String(),
		Mode:   string(cfg.Mode),
		Hotkey: cfg.EffectiveHotkey(),
	})
}

func (s *Server) handleSetHotkey(spec string) {
	if err := s.ctrl.SetHotkey(spec); err != nil {
		s.emit(Event{Type: "error", Message: err.Error()})
		return
	}
	s.emit(Event{Type: "state", Hotkey: s.ctrl.Config().EffectiveHotkey()})
}

func (s *Server) handleSetDevice(device *int) {
	if err := s.ctrl.SetDevice(device); err != nil {
		s.emit(Event{Type: "error", Message: err.Error()})
		return
	}
	s.emit(Event{Type: "state", Device: device})
}

func (s *Server) handleGetState() {
	cfg := s.ctrl.Config()
	loaded := s.ctrl.ModelLoaded()
	active := s.ctrl.Active()
	s.emit(Event{
		Type:        "state",
		Mode:        string(cfg.Mode),
		Hotkey:      cfg.EffectiveHotkey(),
		Model:       cfg.Model,
		Device:      cfg.Device,
		ModelLoaded: &loaded,
		Active:      &active,
	})
}
