// ABOUTME: Daemon configuration from a YAML file and PLAYD_* environment variables
// ABOUTME: Missing files give defaults; flags in main override both
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/output"
	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/player"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
)

// Config represents the daemon configuration
type Config struct {
	// MusicDirectory resolves relative song URIs
	MusicDirectory string `yaml:"music_directory,omitempty"`

	Audio      AudioConfig      `yaml:"audio"`
	ReplayGain ReplayGainConfig `yaml:"replay_gain"`
	CrossFade  CrossFadeConfig  `yaml:"cross_fade"`
	Outputs    []OutputConfig   `yaml:"outputs"`
	HTTP       HTTPConfig       `yaml:"http"`
	Zeroconf   ZeroconfConfig   `yaml:"zeroconf"`
	Log        LogConfig        `yaml:"log"`

	// TUI shows the status screen on the terminal
	TUI bool `yaml:"tui"`
}

// AudioConfig sizes the pipeline
type AudioConfig struct {
	// BufferChunks is the number of 4 KiB chunks in the pool
	BufferChunks int `yaml:"buffer_chunks"`
	// BufferedBeforePlay is the number of chunks decoded before playback starts
	BufferedBeforePlay int `yaml:"buffered_before_play"`
	// Format forces a format on every song, e.g. "48000:16:*"
	Format string `yaml:"format,omitempty"`
}

// ReplayGainConfig holds the replay gain settings
type ReplayGainConfig struct {
	Mode          string  `yaml:"mode"`
	Preamp        float32 `yaml:"preamp"`
	MissingPreamp float32 `yaml:"missing_preamp"`
	Limit         bool    `yaml:"limit"`
}

// CrossFadeConfig holds the initial cross-fade settings
type CrossFadeConfig struct {
	Seconds      float64 `yaml:"seconds"`
	MixRampDB    float32 `yaml:"mixramp_db"`
	MixRampDelay float64 `yaml:"mixramp_delay"`
}

// OutputConfig describes one audio output
type OutputConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Enabled defaults to true
	Enabled   *bool  `yaml:"enabled,omitempty"`
	AlwaysOn  bool   `yaml:"always_on,omitempty"`
	MixerType string `yaml:"mixer_type,omitempty"`
	Format    string `yaml:"format,omitempty"`
	// Params are passed to the output plugin
	Params map[string]string `yaml:"params,omitempty"`
}

// IsEnabled reports the configured enable flag
func (o OutputConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// HTTPConfig configures the status and stream server
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ZeroconfConfig configures mDNS advertisement
type ZeroconfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			BufferChunks:       player.DefaultBufferChunks,
			BufferedBeforePlay: 64,
		},
		ReplayGain: ReplayGainConfig{
			Mode:  "off",
			Limit: true,
		},
		CrossFade: CrossFadeConfig{
			MixRampDelay: -1,
		},
		Outputs: []OutputConfig{
			{Name: "speaker", Type: "oto"},
		},
		HTTP: HTTPConfig{
			Listen: ":8927",
		},
		Zeroconf: ZeroconfConfig{
			Enabled: true,
			Name:    "playd",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// If file doesn't exist, return default config
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadEnvFiles reads variables from dotenv files; missing files are skipped
func LoadEnvFiles(files ...string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range m {
			vars[k] = v
		}
	}
	return vars, nil
}

// EnvLookup returns a lookup preferring the process environment over the
// variables read from dotenv files
func EnvLookup(fileVars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}
}

// ApplyEnv overrides settings from PLAYD_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("PLAYD_MUSIC_DIRECTORY", &c.MusicDirectory)
	str("PLAYD_AUDIO_FORMAT", &c.Audio.Format)
	str("PLAYD_REPLAYGAIN", &c.ReplayGain.Mode)
	str("PLAYD_HTTP_LISTEN", &c.HTTP.Listen)
	str("PLAYD_ZEROCONF_NAME", &c.Zeroconf.Name)
	str("PLAYD_LOG_LEVEL", &c.Log.Level)
	str("PLAYD_LOG_FILE", &c.Log.File)

	if err := integer("PLAYD_BUFFER_CHUNKS", &c.Audio.BufferChunks); err != nil {
		return err
	}
	if err := integer("PLAYD_BUFFERED_BEFORE_PLAY", &c.Audio.BufferedBeforePlay); err != nil {
		return err
	}
	if err := boolean("PLAYD_ZEROCONF", &c.Zeroconf.Enabled); err != nil {
		return err
	}
	if err := boolean("PLAYD_TUI", &c.TUI); err != nil {
		return err
	}
	if v, ok := lookup("PLAYD_CROSSFADE"); ok {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PLAYD_CROSSFADE: %w", err)
		}
		c.CrossFade.Seconds = secs
	}
	return nil
}

// Validate checks every setting that is parsed later
func (c *Config) Validate() error {
	if c.Audio.BufferChunks <= 0 {
		return fmt.Errorf("audio buffer must hold at least one chunk")
	}
	if c.Audio.BufferedBeforePlay < 0 || c.Audio.BufferedBeforePlay > c.Audio.BufferChunks {
		return fmt.Errorf("buffered_before_play %d outside 0..%d", c.Audio.BufferedBeforePlay, c.Audio.BufferChunks)
	}
	if _, err := c.AudioFormat(); err != nil {
		return err
	}
	if _, _, err := c.ReplayGainSettings(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("output %d has no name", i)
		}
		if seen[o.Name] {
			return fmt.Errorf("duplicate output name %q", o.Name)
		}
		seen[o.Name] = true

		if !knownType(o.Type) {
			return fmt.Errorf("output %q: unknown type %q", o.Name, o.Type)
		}
		if _, err := outputs.ParseMixerType(o.MixerType); err != nil {
			return fmt.Errorf("output %q: %w", o.Name, err)
		}
		if _, err := parseFormat(o.Format); err != nil {
			return fmt.Errorf("output %q: %w", o.Name, err)
		}
	}
	return nil
}

func knownType(t string) bool {
	for _, known := range output.Types() {
		if t == known {
			return true
		}
	}
	return false
}

func parseFormat(s string) (audio.Format, error) {
	if strings.TrimSpace(s) == "" {
		return audio.Format{}, nil
	}
	return audio.ParseFormat(s, true)
}

// AudioFormat returns the configured format mask
func (c *Config) AudioFormat() (audio.Format, error) {
	f, err := parseFormat(c.Audio.Format)
	if err != nil {
		return f, fmt.Errorf("audio format: %w", err)
	}
	return f, nil
}

// ReplayGainSettings returns the parsed replay gain mode and adjustments
func (c *Config) ReplayGainSettings() (replaygain.Mode, replaygain.Config, error) {
	mode, err := replaygain.ParseMode(c.ReplayGain.Mode)
	if err != nil {
		return mode, replaygain.Config{}, fmt.Errorf("replay gain: %w", err)
	}
	return mode, replaygain.Config{
		Preamp:        c.ReplayGain.Preamp,
		MissingPreamp: c.ReplayGain.MissingPreamp,
		Limit:         c.ReplayGain.Limit,
	}, nil
}

// CrossFadeSettings returns the initial cross-fade options
func (c *Config) CrossFadeSettings() player.CrossFadeSettings {
	return player.CrossFadeSettings{
		Duration:     seconds(c.CrossFade.Seconds),
		MixRampDB:    c.CrossFade.MixRampDB,
		MixRampDelay: seconds(c.CrossFade.MixRampDelay),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// OutputControl builds the per-output control settings for an opened device
func (o OutputConfig) OutputControl(device output.Output, rg replaygain.Config) (outputs.Config, error) {
	mixer, err := outputs.ParseMixerType(o.MixerType)
	if err != nil {
		return outputs.Config{}, err
	}
	f, err := parseFormat(o.Format)
	if err != nil {
		return outputs.Config{}, err
	}
	return outputs.Config{
		Name:       o.Name,
		Type:       o.Type,
		Device:     device,
		MixerType:  mixer,
		Format:     f,
		AlwaysOn:   o.AlwaysOn,
		Enabled:    o.IsEnabled(),
		ReplayGain: rg,
	}, nil
}
