package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/capture-preview/internal/config"
	"github.com/petems/capture-preview/internal/sampler"
)

// chunkFrames is the PortAudio buffer size. Reads always move whole chunks.
const chunkFrames = 256

var _ sampler.CaptureHandle = (*Handle)(nil)

// Handle is a blocking PortAudio input stream producing signed 16-bit
// little-endian interleaved bytes.
type Handle struct {
	sel        Selector
	sampleRate int
	log        zerolog.Logger

	mu      sync.Mutex
	inited  bool
	started bool
	stream  *portaudio.Stream
	chunk   []int16
	device  Device
}

// New creates a PortAudio capture handle. Nothing touches the driver until Open.
func New(cfg config.AudioConfig, log zerolog.Logger) *Handle {
	return &Handle{
		sel: Selector{
			Name:     cfg.DeviceName,
			Index:    cfg.DeviceIndex,
			Channels: cfg.Channels,
		},
		sampleRate: cfg.SampleRate,
		log:        log,
		chunk:      make([]int16, chunkFrames*cfg.Channels),
	}
}

// Device returns the device chosen by Open.
func (h *Handle) Device() Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

func (h *Handle) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	h.inited = true

	info, dev, err := resolve(h.sel)
	if err != nil {
		h.terminateLocked()
		return err
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: h.sel.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(h.sampleRate),
		FramesPerBuffer: chunkFrames,
	}, h.chunk)
	if err != nil {
		h.terminateLocked()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	h.stream = stream
	h.device = dev
	h.log.Info().Str("device", dev.Name).Int("index", dev.Index).Msg("Opened audio input")
	return nil
}

func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return errors.New("audio stream not open")
	}
	if err := h.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	h.started = true
	return nil
}

// Available reports the bytes that can be read without blocking, rounded
// down to whole chunks.
func (h *Handle) Available() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return 0, errors.New("audio stream not open")
	}
	frames, err := h.stream.AvailableToRead()
	if err != nil {
		return 0, err
	}
	return wholeChunkBytes(frames, h.sel.Channels), nil
}

// Read fills p with as many whole chunks as fit.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return 0, errors.New("audio stream not open")
	}

	chunkBytes := len(h.chunk) * sampler.BytesPerSample
	n := 0
	for len(p)-n >= chunkBytes {
		if err := h.stream.Read(); err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				return n, err
			}
			h.log.Debug().Msg("Audio input overflowed")
		}
		n += sampler.PutS16LE(p[n:], h.chunk)
	}
	return n, nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	if h.stream != nil {
		if h.started {
			if err := h.stream.Stop(); err != nil {
				errs = append(errs, err)
			}
			h.started = false
		}
		if err := h.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		h.stream = nil
	}
	if err := h.terminateLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (h *Handle) terminateLocked() error {
	if !h.inited {
		return nil
	}
	h.inited = false
	return portaudio.Terminate()
}

// wholeChunkBytes converts a frame count into bytes, dropping any partial chunk.
func wholeChunkBytes(frames, channels int) int {
	chunks := frames / chunkFrames
	return chunks * chunkFrames * channels * sampler.BytesPerSample
}

func resolve(sel Selector) (*portaudio.DeviceInfo, Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, Device{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	devices, defDev := convert(infos, def)
	dev, err := pick(devices, defDev, sel)
	if err != nil {
		return nil, Device{}, err
	}
	return infos[indexOf(infos, dev.Index)], dev, nil
}

func indexOf(infos []*portaudio.DeviceInfo, index int) int {
	for i, d := range infos {
		if d.Index == index {
			return i
		}
	}
	return -1
}

func convert(infos []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) ([]Device, *Device) {
	devices := make([]Device, 0, len(infos))
	var defDev *Device
	for _, d := range infos {
		dev := Device{
			Index:            d.Index,
			Name:             d.Name,
			Default:          d == def,
			MaxInputChannels: d.MaxInputChannels,
			DefaultRate:      d.DefaultSampleRate,
			Latency:          d.DefaultLowInputLatency,
		}
		devices = append(devices, dev)
		if dev.Default {
			defDev = &devices[len(devices)-1]
		}
	}
	return devices, defDev
}

// ListDevices returns the devices that can record.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	all, _ := convert(infos, def)
	result := make([]Device, 0, len(all))
	for _, d := range all {
		if d.MaxInputChannels > 0 {
			result = append(result, d)
		}
	}
	return result, nil
}
