package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const appName = "capture-preview"

type Config struct {
	LogLevel    string      `json:"log_level"` // "debug", "info", "warn", "error"
	Audio       AudioConfig `json:"audio"`
	Video       VideoConfig `json:"video"`
	MetricsAddr string      `json:"metrics_addr"` // empty disables the /metrics listener
}

type AudioConfig struct {
	Enabled     bool     `json:"enabled"`
	DeviceName  string   `json:"device_name"`  // takes precedence over DeviceIndex
	DeviceIndex int      `json:"device_index"` // -1 selects the default input
	SampleRate  int      `json:"sample_rate"`
	Channels    int      `json:"channels"`
	FrameRate   int      `json:"frame_rate"` // ticks per second
	MaxWait     Duration `json:"max_wait"`
	PollEvery   Duration `json:"poll_every"`
	StopTimeout Duration `json:"stop_timeout"`
	RecordPath  string   `json:"record_path"` // empty discards samples
}

type VideoConfig struct {
	DeviceIndex int  `json:"device_index"`
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	Mirror      bool `json:"mirror"`
}

// Duration is a time.Duration that reads and writes as "33ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Bare numbers are taken as milliseconds.
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration: webcam 0 at 1280x720,
// audio device 1, 44.1kHz stereo paced at 30 ticks per second.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Enabled:     true,
			DeviceIndex: 1,
			SampleRate:  44100,
			Channels:    2,
			FrameRate:   30,
			MaxWait:     Duration(30 * time.Millisecond),
			PollEvery:   Duration(time.Millisecond),
			StopTimeout: Duration(2 * time.Second),
		},
		Video: VideoConfig{
			DeviceIndex: 0,
			Width:       1280,
			Height:      720,
			Mirror:      true,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads the config at path over the defaults. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the values the capture pipeline cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Audio.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_rate must be positive, got %d", c.Audio.FrameRate))
	}
	if c.Audio.MaxWait < 0 || c.Audio.PollEvery < 0 || c.Audio.StopTimeout < 0 {
		errs = append(errs, errors.New("audio durations must not be negative"))
	}
	if c.Video.DeviceIndex < 0 {
		errs = append(errs, fmt.Errorf("video.device_index must not be negative, got %d", c.Video.DeviceIndex))
	}
	if c.Video.Width < 0 || c.Video.Height < 0 {
		errs = append(errs, errors.New("video dimensions must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveFile(configPath())
}

func (c *Config) SaveFile(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the config file location for this platform.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName, "config.json")
}

// RecordingsPath returns the platform-specific directory for WAV recordings
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, appName, "recordings")
}
