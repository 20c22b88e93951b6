package audio

import (
	"fmt"
	"strings"
	"time"
)

// Device represents an audio input device
type Device struct {
	Index            int
	Name             string
	Default          bool
	MaxInputChannels int
	DefaultRate      float64
	Latency          time.Duration
}

func (d Device) String() string {
	mark := " "
	if d.Default {
		mark = "*"
	}
	return fmt.Sprintf("%s %2d  %s (%d ch, %.0f Hz)", mark, d.Index, d.Name, d.MaxInputChannels, d.DefaultRate)
}

// FormatDevices renders a device list one per line, default marked with *.
func FormatDevices(devices []Device) string {
	var b strings.Builder
	for _, d := range devices {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Selector picks an input device: Name wins over Index, and a negative
// Index means the host default.
type Selector struct {
	Name     string
	Index    int
	Channels int
}

// pick resolves sel against devices. def is the host default input, may be nil.
func pick(devices []Device, def *Device, sel Selector) (Device, error) {
	var (
		found Device
		ok    bool
	)

	switch {
	case sel.Name != "":
		for _, d := range devices {
			if d.Name == sel.Name {
				found, ok = d, true
				break
			}
		}
		if !ok {
			return Device{}, fmt.Errorf("device not found: %s", sel.Name)
		}
	case sel.Index >= 0:
		for _, d := range devices {
			if d.Index == sel.Index {
				found, ok = d, true
				break
			}
		}
		if !ok {
			return Device{}, fmt.Errorf("device index %d out of range (%d devices)", sel.Index, len(devices))
		}
	default:
		if def == nil {
			return Device{}, fmt.Errorf("no default input device")
		}
		found = *def
	}

	if found.MaxInputChannels < sel.Channels {
		return Device{}, fmt.Errorf("device %q has %d input channels, need %d", found.Name, found.MaxInputChannels, sel.Channels)
	}
	return found, nil
}
