// Package config provides the configuration schema and loader for listen.
// Config values are immutable snapshots: they are passed by value, and every
// update produces a new value rather than mutating shared state.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how the activation gate is driven.
type Mode string

const (
	// ModeToggleMute flips activation on every chord press.
	ModeToggleMute Mode = "toggle-mute"

	// ModePushToTalk keeps activation high only while the chord is held.
	ModePushToTalk Mode = "push-to-talk"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeToggleMute || m == ModePushToTalk
}

// Config is the root configuration for listen. Loaded once per session;
// a mode/hotkey/device command produces a full new value.
type Config struct {
	// Model is the transcription model identifier (a ggml model name such
	// as "base.en", or a path to a model file).
	Model string `yaml:"model"`

	// Quantized selects the quantised variant of the model when available.
	Quantized bool `yaml:"quantized"`

	// Mode selects toggle-mute or push-to-talk.
	Mode Mode `yaml:"mode"`

	// Hotkey overrides the per-mode default chord. Empty means use the
	// mode default.
	Hotkey string `yaml:"hotkey"`

	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of capture channels requested from the device.
	Channels int `yaml:"channels"`

	// Device is the capture device index. Nil means system default.
	Device *int `yaml:"device"`

	// MinSpeechMs is the minimum utterance duration; shorter segments are
	// discarded.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MinSilenceMs is the trailing silence that ends an utterance.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// EnergyThreshold is the RMS level above which a frame counts as speech.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// Timestamps requests per-span timing in file transcription output.
	Timestamps bool `yaml:"timestamps"`

	// OutputFile, when set, receives every transcription line in addition
	// to the console, flushed after each write.
	OutputFile string `yaml:"output_file"`

	// EventAddr, when set, serves a websocket event stream of state and
	// transcription events on this address (e.g. "127.0.0.1:7267").
	EventAddr string `yaml:"event_addr"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls stderr log verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model:           "base.en",
		Mode:            ModeToggleMute,
		SampleRate:      16000,
		Channels:        1,
		MinSpeechMs:     250,
		MinSilenceMs:    700,
		EnergyThreshold: 0.01,
		LogLevel:        LogInfo,
	}
}

// EffectiveHotkey returns the chord spec in force: the explicit hotkey when
// set, otherwise the per-mode default.
func (c Config) EffectiveHotkey() string {
	if c.Hotkey != "" {
		return c.Hotkey
	}
	if c.Mode == ModePushToTalk {
		return "ctrl+shift+space"
	}
	return "ctrl+shift+m"
}

// WithMode returns a copy of c with the mode replaced.
func (c Config) WithMode(m Mode) Config {
	c.Mode = m
	return c
}

// WithHotkey returns a copy of c with the hotkey replaced.
func (c Config) WithHotkey(spec string) Config {
	c.Hotkey = spec
	return c
}

// WithDevice returns a copy of c with the device replaced.
func (c Config) WithDevice(device *int) Config {
	c.Device = device
	return c
}
