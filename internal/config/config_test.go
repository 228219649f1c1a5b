// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, YAML parsing, env overrides and validation
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Audio.BufferChunks != 1024 {
		t.Errorf("expected 1024 buffer chunks, got %d", cfg.Audio.BufferChunks)
	}
	if cfg.CrossFade.MixRampDelay != -1 {
		t.Errorf("expected mixramp delay -1, got %v", cfg.CrossFade.MixRampDelay)
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0].Type != "oto" {
		t.Errorf("unexpected default outputs: %+v", cfg.Outputs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playd.yaml")
	data := `
music_directory: /srv/music
audio:
  buffer_chunks: 256
  buffered_before_play: 16
  format: "48000:*:2"
replay_gain:
  mode: album
  preamp: 3
  limit: false
cross_fade:
  seconds: 2.5
  mixramp_db: -17
  mixramp_delay: 1
outputs:
  - name: living room
    type: "null"
    mixer_type: software
    format: "44100:16:2"
  - name: web
    type: stream
    enabled: false
    params:
      codec: pcm
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.MusicDirectory != "/srv/music" {
		t.Errorf("music directory: got %q", cfg.MusicDirectory)
	}
	// Untouched sections keep their defaults
	if cfg.HTTP.Listen != ":8927" {
		t.Errorf("expected default listen address, got %q", cfg.HTTP.Listen)
	}

	f, err := cfg.AudioFormat()
	if err != nil {
		t.Fatal(err)
	}
	if f != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("unexpected format mask %+v", f)
	}

	mode, rg, err := cfg.ReplayGainSettings()
	if err != nil {
		t.Fatal(err)
	}
	if mode != replaygain.ModeAlbum || rg.Preamp != 3 || rg.Limit {
		t.Errorf("unexpected replay gain %v %+v", mode, rg)
	}

	xf := cfg.CrossFadeSettings()
	if xf.Duration != 2500*time.Millisecond || xf.MixRampDB != -17 || xf.MixRampDelay != time.Second {
		t.Errorf("unexpected cross-fade %+v", xf)
	}

	if len(cfg.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(cfg.Outputs))
	}
	if !cfg.Outputs[0].IsEnabled() || cfg.Outputs[1].IsEnabled() {
		t.Errorf("enable flags wrong: %v %v", cfg.Outputs[0].IsEnabled(), cfg.Outputs[1].IsEnabled())
	}
	if cfg.Outputs[1].Params["codec"] != "pcm" {
		t.Errorf("params not parsed: %v", cfg.Outputs[1].Params)
	}

	oc, err := cfg.Outputs[0].OutputControl(nil, rg)
	if err != nil {
		t.Fatal(err)
	}
	if oc.MixerType != outputs.MixerSoftware || oc.Format.SampleRate != 44100 || !oc.Enabled {
		t.Errorf("unexpected output control config %+v", oc)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("audio: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playd.yaml")
	cfg := DefaultConfig()
	cfg.Zeroconf.Name = "kitchen"
	cfg.Audio.BufferChunks = 512

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Zeroconf.Name != "kitchen" || loaded.Audio.BufferChunks != 512 {
		t.Errorf("saved values lost: %+v", loaded)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PLAYD_BUFFER_CHUNKS": "128",
		"PLAYD_REPLAYGAIN":    "track",
		"PLAYD_CROSSFADE":     "1.5",
		"PLAYD_TUI":           "true",
		"PLAYD_HTTP_LISTEN":   "127.0.0.1:9000",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Audio.BufferChunks != 128 {
		t.Errorf("buffer chunks: got %d", cfg.Audio.BufferChunks)
	}
	if cfg.ReplayGain.Mode != "track" || !cfg.TUI || cfg.HTTP.Listen != "127.0.0.1:9000" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CrossFade.Seconds != 1.5 {
		t.Errorf("crossfade: got %v", cfg.CrossFade.Seconds)
	}
	// Unset variables leave defaults alone
	if cfg.Log.Level != "info" {
		t.Errorf("log level changed to %q", cfg.Log.Level)
	}
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "PLAYD_BUFFER_CHUNKS" {
			return "lots", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "PLAYD_BUFFER_CHUNKS") {
		t.Errorf("expected error naming the variable, got %v", err)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PLAYD_TEST_ONLY_NAME=den\n"), 0644); err != nil {
		t.Fatal(err)
	}

	vars, err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadEnvFiles failed: %v", err)
	}
	if vars["PLAYD_TEST_ONLY_NAME"] != "den" {
		t.Errorf("unexpected vars %v", vars)
	}

	lookup := EnvLookup(vars)
	if v, ok := lookup("PLAYD_TEST_ONLY_NAME"); !ok || v != "den" {
		t.Errorf("lookup from file failed: %q %v", v, ok)
	}

	t.Setenv("PLAYD_TEST_ONLY_NAME", "process")
	if v, _ := lookup("PLAYD_TEST_ONLY_NAME"); v != "process" {
		t.Errorf("process environment should win, got %q", v)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero buffer", func(c *Config) { c.Audio.BufferChunks = 0 }, "at least one chunk"},
		{"prebuffer too large", func(c *Config) { c.Audio.BufferedBeforePlay = 5000 }, "buffered_before_play"},
		{"bad format", func(c *Config) { c.Audio.Format = "44100:16" }, "audio format"},
		{"bad replay gain", func(c *Config) { c.ReplayGain.Mode = "loud" }, "replay gain"},
		{"unknown type", func(c *Config) { c.Outputs[0].Type = "jack" }, "unknown type"},
		{"missing name", func(c *Config) { c.Outputs[0].Name = "" }, "no name"},
		{"bad mixer", func(c *Config) { c.Outputs[0].MixerType = "analog" }, "speaker"},
		{"duplicate name", func(c *Config) {
			c.Outputs = append(c.Outputs, OutputConfig{Name: "speaker", Type: "null"})
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
