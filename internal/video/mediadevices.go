package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/pion/mediadevices"
	mdvideo "github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"

	// Registers the platform camera driver (v4l2, AVFoundation, ...).
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/petems/capture-preview/internal/config"
)

type mediaCamera struct {
	track  *mediadevices.VideoTrack
	reader mdvideo.Reader
	label  string

	mu     sync.Mutex
	closed bool
}

// CameraInfo describes a video input.
type CameraInfo struct {
	Index int
	ID    string
	Label string
}

// ListCameras returns the video inputs in driver order; Index is what
// VideoConfig.DeviceIndex refers to.
func ListCameras() []CameraInfo {
	var out []CameraInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, CameraInfo{Index: len(out), ID: d.DeviceID, Label: d.Label})
	}
	return out
}

// OpenCamera opens the webcam at cfg.DeviceIndex and starts streaming.
func OpenCamera(cfg config.VideoConfig, log zerolog.Logger) (Camera, error) {
	cams := ListCameras()
	if cfg.DeviceIndex < 0 || cfg.DeviceIndex >= len(cams) {
		return nil, fmt.Errorf("camera index %d out of range (%d cameras)", cfg.DeviceIndex, len(cams))
	}
	info := cams[cfg.DeviceIndex]

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(info.ID)
			if cfg.Width > 0 {
				c.Width = prop.Int(cfg.Width)
			}
			if cfg.Height > 0 {
				c.Height = prop.Int(cfg.Height)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %q: %w", info.Label, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("camera produced no video track")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return nil, fmt.Errorf("unexpected track type %T", tracks[0])
	}

	log.Info().Str("camera", info.Label).Int("width", cfg.Width).Int("height", cfg.Height).Msg("Opened camera")
	return &mediaCamera{
		track:  track,
		reader: track.NewReader(false),
		label:  info.Label,
	}, nil
}

// Grab reads the next frame and copies it out of the driver's buffer.
func (c *mediaCamera) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, release, err := c.reader.Read()
	if err != nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed || errors.Is(err, io.EOF) {
			return nil, ErrEndOfStream
		}
		return nil, err
	}
	defer release()

	return Copy(img), nil
}

func (c *mediaCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.track.Close()
}
