package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/petems/capture-preview/internal/observe"
)

// Preview pumps frames from a Camera to a Display.
type Preview struct {
	Camera  Camera
	Display Display
	// Mirror is consulted per frame; nil never mirrors.
	Mirror  func() bool
	Metrics *observe.Metrics // optional
	Logger  zerolog.Logger

	frames atomic.Uint64
	shown  atomic.Uint64
}

// Run grabs frames until the camera runs dry, the display is closed or ctx
// is done. Frames are shown only while the display is visible. On return the
// display is disposed and the camera closed. End of stream is not an error.
func (p *Preview) Run(ctx context.Context) error {
	cam := &closeOnce{Camera: p.Camera}
	defer func() {
		p.Display.Dispose()
		if err := cam.Close(); err != nil {
			p.Logger.Warn().Err(err).Msg("Failed to close camera")
		}
	}()

	// Grab may not honour ctx; closing the camera unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = cam.Close() })
	defer stop()

	// A Closable display signals its own end and may be hidden and shown
	// again; any other display ends the loop once it is hidden after showing.
	var closed <-chan struct{}
	c, closable := p.Display.(Closable)
	if closable {
		closed = c.Closed()
	}
	wasShown := false

	p.Logger.Info().Msg("Video preview started")
	defer func() {
		p.Logger.Info().
			Uint64("frames", p.frames.Load()).
			Uint64("shown", p.shown.Load()).
			Msg("Video preview stopped")
	}()

	for {
		select {
		case <-closed:
			return nil
		default:
		}

		img, err := cam.Grab(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrEndOfStream) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("grab frame: %w", err)
		}
		if img == nil {
			return nil
		}
		p.frames.Add(1)

		shown := p.Display.Visible()
		if !shown && wasShown && !closable {
			return nil
		}
		if shown {
			wasShown = true
			if p.Mirror != nil && p.Mirror() {
				img = Mirror(img)
			}
			p.Display.Show(img)
			p.shown.Add(1)
		}
		if p.Metrics != nil {
			p.Metrics.RecordFrame(ctx, shown)
		}
	}
}

// Frames returns how many frames were grabbed.
func (p *Preview) Frames() uint64 { return p.frames.Load() }

// Shown returns how many frames reached the display.
func (p *Preview) Shown() uint64 { return p.shown.Load() }

type closeOnce struct {
	Camera
	once sync.Once
	err  error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() { c.err = c.Camera.Close() })
	return c.err
}
