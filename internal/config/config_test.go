package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Audio.Channels != 2 {
		t.Errorf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.DeviceIndex != 1 || cfg.Video.DeviceIndex != 0 {
		t.Errorf("unexpected device defaults: audio=%d video=%d", cfg.Audio.DeviceIndex, cfg.Video.DeviceIndex)
	}
	if cfg.Audio.FrameRate != 30 {
		t.Errorf("expected 30 ticks per second, got %d", cfg.Audio.FrameRate)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := Default()
	cfg.Audio.DeviceName = "USB Mic"
	cfg.Audio.MaxWait = Duration(50 * time.Millisecond)
	cfg.Video.Mirror = false
	if err := cfg.SaveFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Audio.DeviceName != "USB Mic" {
		t.Errorf("expected device name to persist, got %q", got.Audio.DeviceName)
	}
	if got.Audio.MaxWait.Std() != 50*time.Millisecond {
		t.Errorf("expected max wait 50ms, got %v", got.Audio.MaxWait.Std())
	}
	if got.Video.Mirror {
		t.Error("expected mirror to be false")
	}
}

func TestDurationAcceptsMilliseconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"audio":{"sample_rate":8000,"channels":1,"frame_rate":10,"max_wait":25}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audio.MaxWait.Std() != 25*time.Millisecond {
		t.Errorf("expected 25ms, got %v", cfg.Audio.MaxWait.Std())
	}
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero sample rate", `{"audio":{"sample_rate":0}}`},
		{"negative channels", `{"audio":{"channels":-2}}`},
		{"zero frame rate", `{"audio":{"frame_rate":0}}`},
		{"negative video index", `{"video":{"device_index":-1}}`},
		{"bad duration", `{"audio":{"max_wait":"soon"}}`},
		{"malformed json", `{"audio":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestConfigPathHonoursXDG(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG only applies on linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got, want := Path(), filepath.Join("/tmp/xdg", appName, "config.json"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
