package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
	"github.com/BradleyFarquharson/Listen/internal/hotkey"
)

// DefaultPath returns the per-user config file location,
// e.g. ~/.config/listen/config.yaml on Linux.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "listen", "config.yaml")
}

// Overrides carries explicitly provided values layered on top of the file.
// Nil fields are "not provided" and leave the underlying value untouched —
// an override is never applied merely because a flag sat at its default.
type Overrides struct {
	Model           *string
	Quantized       *bool
	Mode            *Mode
	Hotkey          *string
	SampleRate      *int
	Channels        *int
	Device          *int
	MinSpeechMs     *int
	MinSilenceMs    *int
	EnergyThreshold *float64
	Timestamps      *bool
	OutputFile      *string
	EventAddr       *string
	MetricsAddr     *string
	LogLevel        *LogLevel
}

// Load builds the effective configuration: defaults ← file at path ←
// overrides. A missing file is not an error; every field falls back to its
// default. The result is validated.
func Load(path string, ov Overrides) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Absent file: all defaults.
		case err != nil:
			return Config{}, errkind.Wrap(errkind.Config, fmt.Sprintf("open %q", path), err)
		default:
			defer f.Close()
			if cfg, err = decodeInto(cfg, f); err != nil {
				return Config{}, errkind.Wrap(errkind.Config, fmt.Sprintf("parse %q", path), err)
			}
		}
	}

	cfg = applyOverrides(cfg, ov)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of the defaults and validates
// the result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg, err := decodeInto(Default(), r)
	if err != nil {
		return Config{}, errkind.Wrap(errkind.Config, "decode yaml", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeInto(cfg Config, r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
// Reloading the file with no overrides reproduces identical field values.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create %q: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg Config) error {
	var errs []error

	if cfg.Mode != "" && !cfg.Mode.IsValid() {
		errs = append(errs, errkind.Newf(errkind.Config,
			"mode %q is invalid; valid values: toggle-mute, push-to-talk", cfg.Mode))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, errkind.Newf(errkind.Config,
			"log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, errkind.Newf(errkind.Config,
			"sample_rate %d must be positive", cfg.SampleRate))
	}
	if cfg.Channels <= 0 {
		errs = append(errs, errkind.Newf(errkind.Config,
			"channels %d must be positive", cfg.Channels))
	}
	if cfg.MinSpeechMs < 0 || cfg.MinSilenceMs < 0 {
		errs = append(errs, errkind.New(errkind.Config,
			"min_speech_ms and min_silence_ms must not be negative"))
	}
	if cfg.EnergyThreshold < 0 || cfg.EnergyThreshold > 1 {
		errs = append(errs, errkind.Newf(errkind.Config,
			"energy_threshold %.3f is out of range [0, 1]", cfg.EnergyThreshold))
	}
	if _, err := hotkey.ParseChord(cfg.EffectiveHotkey()); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func applyOverrides(cfg Config, ov Overrides) Config {
	if ov.Model != nil {
		cfg.Model = *ov.Model
	}
	if ov.Quantized != nil {
		cfg.Quantized = *ov.Quantized
	}
	if ov.Mode != nil {
		cfg.Mode = *ov.Mode
	}
	if ov.Hotkey != nil {
		cfg.Hotkey = *ov.Hotkey
	}
	if ov.SampleRate != nil {
		cfg.SampleRate = *ov.SampleRate
	}
	if ov.Channels != nil {
		cfg.Channels = *ov.Channels
	}
	if ov.Device != nil {
		cfg.Device = ov.Device
	}
	if ov.MinSpeechMs != nil {
		cfg.MinSpeechMs = *ov.MinSpeechMs
	}
	if ov.MinSilenceMs != nil {
		cfg.MinSilenceMs = *ov.MinSilenceMs
	}
	if ov.EnergyThreshold != nil {
		cfg.EnergyThreshold = *ov.EnergyThreshold
	}
	if ov.Timestamps != nil {
		cfg.Timestamps = *ov.Timestamps
	}
	if ov.OutputFile != nil {
		cfg.OutputFile = *ov.OutputFile
	}
	if ov.EventAddr != nil {
		cfg.EventAddr = *ov.EventAddr
	}
	if ov.MetricsAddr != nil {
		cfg.MetricsAddr = *ov.MetricsAddr
	}
	if ov.LogLevel != nil {
		cfg.LogLevel = *ov.LogLevel
	}
	return cfg
}
