package hotkey

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	hook "github.com/robotn/gohook"
)

// Handler receives chord transitions from the listener.
type Handler func(ev Event)

// Listener subscribes to global keyboard events and feeds them through a
// Tracker, invoking the handler on every chord edge. One listener goroutine
// serialises all tracker access.
type Listener struct {
	tracker *Tracker
	handler Handler
}

// NewListener returns a listener that drives tracker and calls handler for
// every non-EventNone transition.
func NewListener(tracker *Tracker, handler Handler) *Listener {
	return &Listener{tracker: tracker, handler: handler}
}

// Run blocks consuming global key events until ctx is cancelled. The OS
// hook is uninstalled on return.
func (l *Listener) Run(ctx context.Context) error {
	events := hook.Start()
	defer hook.End()

	slog.Debug("global key listener started", "chord", l.tracker.Chord().String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-events:
			if !open {
				return nil
			}
			key, ok := translate(ev)
			if !ok {
				continue
			}
			switch ev.Kind {
			case hook.KeyDown, hook.KeyHold:
				if chordEv := l.tracker.Press(key); chordEv != EventNone {
					l.handler(chordEv)
				}
			case hook.KeyUp:
				if chordEv := l.tracker.Release(key); chordEv != EventNone {
					l.handler(chordEv)
				}
			}
		}
	}
}

// translate maps a raw hook event onto an abstract Key. Left/right modifier
// variants collapse onto the canonical modifier.
func translate(ev hook.Event) (Key, bool) {
	name := strings.ToLower(hook.RawcodetoKeychar(ev.Rawcode))
	name = strings.TrimPrefix(name, "left ")
	name = strings.TrimPrefix(name, "right ")
	if key, ok := aliases[name]; ok {
		return key, true
	}
	if len(name) == 1 {
		return Key(name), true
	}
	if ev.Keychar != 0 && unicode.IsPrint(ev.Keychar) {
		return Key(strings.ToLower(string(ev.Keychar))), true
	}
	return "", false
}
