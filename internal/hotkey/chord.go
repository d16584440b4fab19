// Package hotkey parses hotkey chord specifications and tracks pressed-key
// state so that chord-satisfied and chord-broken transitions fire exactly
// once per edge.
package hotkey

import (
	"sort"
	"strings"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
)

// Key is an abstract, layout-independent key identifier. Modifier keys use
// their canonical names; printable keys use their lowercase character.
type Key string

const (
	KeyCtrl  Key = "ctrl"
	KeyShift Key = "shift"
	KeyAlt   Key = "alt"
	KeyCmd   Key = "cmd"
	KeySpace Key = "space"
)

// aliases maps accepted spec tokens onto canonical keys.
var aliases = map[string]Key{
	"ctrl":    KeyCtrl,
	"control": KeyCtrl,
	"shift":   KeyShift,
	"alt":     KeyAlt,
	"option":  KeyAlt,
	"cmd":     KeyCmd,
	"command": KeyCmd,
	"super":   KeyCmd,
	"space":   KeySpace,
}

// Chord is the set of keys that must all be held simultaneously.
type Chord map[Key]struct{}

// ParseChord parses a spec like "ctrl+shift+m" into a Chord. Tokens are
// case-insensitive; single printable characters stand for themselves. An
// unrecognised token is a config error, surfaced before the session starts.
func ParseChord(spec string) (Chord, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errkind.New(errkind.Config, "empty hotkey spec")
	}
	chord := make(Chord)
	for _, part := range strings.Split(spec, "+") {
		token := strings.ToLower(strings.TrimSpace(part))
		if key, ok := aliases[token]; ok {
			chord[key] = struct{}{}
			continue
		}
		if len(token) == 1 {
			chord[Key(token)] = struct{}{}
			continue
		}
		return nil, errkind.Newf(errkind.Config, "unknown key %q in hotkey %q", token, spec)
	}
	return chord, nil
}

// Contains reports whether k is a chord member.
func (c Chord) Contains(k Key) bool {
	_, ok := c[k]
	return ok
}

// SubsetOf reports whether every chord member is present in pressed.
func (c Chord) SubsetOf(pressed map[Key]struct{}) bool {
	for k := range c {
		if _, ok := pressed[k]; !ok {
			return false
		}
	}
	return true
}

// String renders the chord in canonical "+"-joined form with modifiers
// first, for status output.
func (c Chord) String() string {
	order := map[Key]int{KeyCtrl: 0, KeyAlt: 1, KeyShift: 2, KeyCmd: 3}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, string(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := order[Key(keys[i])]
		oj, jok := order[Key(keys[j])]
		switch {
		case iok && jok:
			return oi < oj
		case iok:
			return true
		case jok:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return strings.Join(keys, "+")
}
