package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/BradleyFarquharson/Listen/internal/config"
	"github.com/BradleyFarquharson/Listen/internal/observe"
	"github.com/BradleyFarquharson/Listen/internal/server"
	"github.com/BradleyFarquharson/Listen/internal/session"
	"github.com/BradleyFarquharson/Listen/pkg/audio"
	"github.com/BradleyFarquharson/Listen/pkg/audio/capture"
	"github.com/BradleyFarquharson/Listen/pkg/provider/stt/mock"
)

// scriptedSource returns a pre-closed frame channel: the segmenter drains
// whatever was queued, flushes, and exits, so transcription events are fully
// emitted before any later Stop returns.
type scriptedSource struct {
	ch chan audio.Frame
}

func newScriptedSource(frames ...audio.Frame) *scriptedSource {
	s := &scriptedSource{ch: make(chan audio.Frame, len(frames))}
	for _, f := range frames {
		s.ch <- f
	}
	close(s.ch)
	return s
}

func (s *scriptedSource) Frames() <-chan audio.Frame { return s.ch }
func (s *scriptedSource) Close() error               { return nil }

func speechFrames(n int) []audio.Frame {
	frames := make([]audio.Frame, 0, n)
	for range n {
		samples := make([]float32, audio.FrameSize(16000))
		for i := range samples {
			samples[i] = 0.5
		}
		frames = append(frames, audio.Frame{Samples: samples, SampleRate: 16000})
	}
	return frames
}

func silenceFrames(n int) []audio.Frame {
	frames := make([]audio.Frame, 0, n)
	for range n {
		frames = append(frames, audio.Frame{
			Samples:    make([]float32, audio.FrameSize(16000)),
			SampleRate: 16000,
		})
	}
	return frames
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type harness struct {
	rec    *mock.Recognizer
	frames []audio.Frame
	opts   []server.Option
}

// run feeds the given protocol lines through a server and returns every
// emitted event in order.
func (h *harness) run(t *testing.T, lines ...string) []server.Event {
	t.Helper()
	if h.rec == nil {
		h.rec = &mock.Recognizer{}
	}
	open := func(config.Config) (session.FrameSource, error) {
		return newScriptedSource(h.frames...), nil
	}

	in := strings.NewReader(strings.Join(lines, "\n"))
	var out bytes.Buffer
	opts := append([]server.Option{
		server.WithDeviceLister(func() ([]capture.Device, error) { return nil, nil }),
		server.WithSessionOptions(session.WithMetrics(testMetrics(t))),
	}, h.opts...)
	srv := server.New(config.Default(), h.rec, open, in, &out, opts...)

	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var events []server.Event
	dec := json.NewDecoder(&out)
	for dec.More() {
		var ev server.Event
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestRun_EmitsInitialState(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != "state" || ev.State != "idle" {
		t.Fatalf("initial event = %+v", ev)
	}
	if ev.Mode != "toggle-mute" || ev.Hotkey != "ctrl+shift+m" || ev.Model != "base.en" {
		t.Fatalf("initial event = %+v", ev)
	}
}

func TestStart_BeforeModelLoadedFails(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"start"}`)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Type != "error" || events[1].Message != "Model not loaded yet" {
		t.Fatalf("event = %+v", events[1])
	}
	for _, ev := range events {
		if ev.State == "listening" || ev.State == "ready" {
			t.Fatalf("session must not start: %+v", ev)
		}
	}
}

func TestDownloadModelThenStart(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t,
		`{"action":"download_model"}`,
		`{"action":"start"}`,
		`{"action":"quit"}`,
	)

	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{"state", "model_loading", "model_loaded", "state", "state"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
	if events[3].State != "listening" || events[3].Mode != "toggle-mute" {
		t.Fatalf("start reply = %+v", events[3])
	}
	if events[4].State != "quit" {
		t.Fatalf("quit reply = %+v", events[4])
	}
}

func TestDownloadModel_StatusNotices(t *testing.T) {
	t.Parallel()

	h := &harness{
		opts: []server.Option{
			server.WithModelLoader(func(_ context.Context, status func(string)) error {
				status("Downloading model: base.en...")
				return nil
			}),
		},
	}
	events := h.run(t, `{"action":"download_model"}`)

	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{"state", "model_loading", "status", "model_loaded"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
	if events[2].Message != "Downloading model: base.en..." {
		t.Fatalf("status event = %+v", events[2])
	}
}

func TestTranscription_FlowsToProtocolStream(t *testing.T) {
	t.Parallel()

	h := &harness{
		rec: &mock.Recognizer{
			RecognizeFunc: func([]float32, int) (string, error) { return "hi there", nil },
		},
		frames: append(speechFrames(10), silenceFrames(24)...),
	}
	events := h.run(t,
		`{"action":"download_model"}`,
		`{"action":"start"}`,
		`{"action":"quit"}`,
	)

	var texts []string
	for _, ev := range events {
		if ev.Type == "transcription" {
			texts = append(texts, ev.Text)
		}
	}
	if len(texts) != 1 || texts[0] != "hi there" {
		t.Fatalf("transcriptions = %q, want one %q", texts, "hi there")
	}
	// Quit joins the consumer loop, so quit is the final event.
	if last := events[len(events)-1]; last.State != "quit" {
		t.Fatalf("last event = %+v", last)
	}
}

func TestUnknownAction(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"dance"}`)
	if events[1].Type != "error" || events[1].Message != "Unknown action: dance" {
		t.Fatalf("event = %+v", events[1])
	}
}

func TestInvalidJSON(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{not json`)
	if events[1].Type != "error" || events[1].Message != "Invalid JSON" {
		t.Fatalf("event = %+v", events[1])
	}
}

func TestOversizedLine_ReportedAndLoopContinues(t *testing.T) {
	t.Parallel()

	long := `{"action":"` + strings.Repeat("a", 1<<20) + `"}`
	events := (&harness{}).run(t, long, `{"action":"get_state"}`)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[1].Type != "error" || events[1].Message != "Invalid JSON" {
		t.Fatalf("event = %+v", events[1])
	}
	if events[2].Type != "state" || events[2].ModelLoaded == nil {
		t.Fatalf("command after oversized line not served: %+v", events[2])
	}
}

func TestGetDevices(t *testing.T) {
	t.Parallel()

	h := &harness{opts: []server.Option{
		server.WithDeviceLister(func() ([]capture.Device, error) {
			return []capture.Device{{Index: 0, Name: "Built-in Mic", Channels: 1}}, nil
		}),
	}}
	events := h.run(t, `{"action":"get_devices"}`)
	ev := events[1]
	if ev.Type != "devices" || len(ev.Devices) != 1 || ev.Devices[0].Name != "Built-in Mic" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSetActive_WithoutSessionFails(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"set_active","active":true}`)
	if events[1].Type != "error" {
		t.Fatalf("event = %+v", events[1])
	}
}

func TestGetState_ReportsBooleans(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"get_state"}`)
	ev := events[1]
	if ev.Type != "state" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ModelLoaded == nil || *ev.ModelLoaded {
		t.Fatalf("model_loaded = %v, want present false", ev.ModelLoaded)
	}
	if ev.Active == nil || *ev.Active {
		t.Fatalf("active = %v, want present false", ev.Active)
	}
	if ev.Mode != "toggle-mute" || ev.Model != "base.en" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSetHotkey(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t,
		`{"action":"set_hotkey","hotkey":"ctrl+pineapple"}`,
		`{"action":"set_hotkey","hotkey":"ctrl+alt+d"}`,
	)
	if events[1].Type != "error" {
		t.Fatalf("bad hotkey reply = %+v", events[1])
	}
	if events[2].Type != "state" || events[2].Hotkey != "ctrl+alt+d" {
		t.Fatalf("good hotkey reply = %+v", events[2])
	}
}

func TestSetMode_SwitchesDefaultsAndHotkey(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"set_mode","mode":"push-to-talk"}`)
	ev := events[1]
	if ev.Type != "state" || ev.State != "ready" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Mode != "push-to-talk" || ev.Hotkey != "ctrl+shift+space" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSetDevice(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"set_device","device":2}`)
	ev := events[1]
	if ev.Type != "state" || ev.Device == nil || *ev.Device != 2 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestStop_WithoutSessionStillReplies(t *testing.T) {
	t.Parallel()

	events := (&harness{}).run(t, `{"action":"stop"}`)
	if events[1].Type != "state" || events[1].State != "stopped" {
		t.Fatalf("event = %+v", events[1])
	}
}
