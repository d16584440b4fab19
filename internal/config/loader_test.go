package config_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/BradleyFarquharson/Listen/internal/config"
	"github.com/BradleyFarquharson/Listen/internal/errkind"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), config.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != config.Default() {
		t.Errorf("absent file should produce defaults, got %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	want := config.Default()
	want.Mode = config.ModePushToTalk
	want.MinSilenceMs = 500
	if err := config.Save(want, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := config.Load(path, config.Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoad_ExplicitOverridesWinOverFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	fileCfg := config.Default()
	fileCfg.Model = "small.en"
	fileCfg.MinSpeechMs = 100
	if err := config.Save(fileCfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	model := "large-v3"
	got, err := config.Load(path, config.Overrides{Model: &model})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Model != "large-v3" {
		t.Errorf("override should win: got %q", got.Model)
	}
	if got.MinSpeechMs != 100 {
		t.Errorf("unset override must not clobber file value: got %d", got.MinSpeechMs)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("not_a_field: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !errkind.Is(err, errkind.Config) {
		t.Errorf("expected config error kind, got %v", err)
	}
}

func TestValidate_BadMode(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Mode = "whisper-quietly"
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if !strings.Contains(err.Error(), "toggle-mute") {
		t.Errorf("error should list valid modes, got: %v", err)
	}
}

func TestValidate_BadHotkeySpec(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Hotkey = "ctrl+frobnicate"
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for unparseable hotkey")
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.SampleRate = 0
	cfg.EnergyThreshold = 3
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	if !strings.Contains(err.Error(), "sample_rate") || !strings.Contains(err.Error(), "energy_threshold") {
		t.Errorf("expected both failures listed, got: %v", err)
	}
}

func TestEffectiveHotkey_ModeDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if got := cfg.EffectiveHotkey(); got != "ctrl+shift+m" {
		t.Errorf("toggle-mute default: got %q", got)
	}
	cfg = cfg.WithMode(config.ModePushToTalk)
	if got := cfg.EffectiveHotkey(); got != "ctrl+shift+space" {
		t.Errorf("push-to-talk default: got %q", got)
	}
	cfg = cfg.WithHotkey("alt+z")
	if got := cfg.EffectiveHotkey(); got != "alt+z" {
		t.Errorf("explicit hotkey wins: got %q", got)
	}
}

func TestWithMode_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()
	a := config.Default()
	_ = a.WithMode(config.ModePushToTalk)
	if a.Mode != config.ModeToggleMute {
		t.Error("WithMode must return a copy, not mutate the receiver")
	}
}
