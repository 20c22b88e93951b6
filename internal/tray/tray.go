package tray

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/capture-preview/internal/config"
	"github.com/petems/capture-preview/internal/video"
)

const (
	iconSize = 32

	// Tray icons are not meant for video; cap the refresh rate.
	iconInterval = 200 * time.Millisecond
)

// Status values shown next to the tray icon.
const (
	StatusStarting  = "starting"
	StatusCapturing = "capturing"
	StatusVideoOnly = "video-only"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

var (
	_ video.Display  = (*UI)(nil)
	_ video.Closable = (*UI)(nil)
)

type Options struct {
	Config  *config.Config
	Version string
	Commit  string
	Logger  zerolog.Logger
	// Devices renders the device list for "Copy Devices".
	Devices func() (string, error)
	// OnReady runs once the tray is up, on its own goroutine.
	OnReady func()
}

// UI is the tray icon. It doubles as the preview display: the latest frame
// is shown as a thumbnail icon while "Show Preview" is checked.
type UI struct {
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger
	devices func() (string, error)
	onReady func()

	// systray entry points, replaced in tests
	setIcon  func([]byte)
	setTitle func(string)
	quit     func()

	ready     atomic.Bool
	preview   atomic.Bool
	mirror    atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	lastIcon time.Time

	// Menu items
	mStatus  *systray.MenuItem
	mPreview *systray.MenuItem
	mMirror  *systray.MenuItem
	mDevices *systray.MenuItem
}

func New(opts Options) *UI {
	u := &UI{
		cfg:      opts.Config,
		version:  opts.Version,
		commit:   opts.Commit,
		log:      opts.Logger,
		devices:  opts.Devices,
		onReady:  opts.OnReady,
		setIcon:  systray.SetIcon,
		setTitle: systray.SetTitle,
		quit:     systray.Quit,
		closed:   make(chan struct{}),
	}
	u.preview.Store(true)
	u.mirror.Store(opts.Config.Video.Mirror)
	return u
}

// Run blocks running the tray event loop. It MUST be called on the main thread.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			u.Dispose()
		case <-u.closed:
		}
	}()
	systray.Run(u.onTrayReady, u.onExit)
	return nil
}

func (u *UI) onTrayReady() {
	u.SetStatus(StatusStarting)
	systray.SetTooltip("Webcam and microphone capture")

	u.mStatus = systray.AddMenuItem("Starting...", "Capture status")
	u.mStatus.Disable()
	systray.AddSeparator()

	u.mPreview = systray.AddMenuItemCheckbox("Show Preview", "Show the camera in the tray icon", u.preview.Load())
	u.mMirror = systray.AddMenuItemCheckbox("Mirror", "Flip the preview horizontally", u.mirror.Load())
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Copy Devices", "Copy the audio device list to the clipboard")
	mAbout := systray.AddMenuItem("About", "About capture-preview")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.ready.Store(true)

	// Event loop
	go u.handleEvents(mAbout, mQuit)

	if u.onReady != nil {
		go u.onReady()
	}
}

func (u *UI) handleEvents(mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.closed:
			return
		case <-u.mPreview.ClickedCh:
			u.togglePreview()
		case <-u.mMirror.ClickedCh:
			u.toggleMirror()
		case <-u.mDevices.ClickedCh:
			u.copyDevices()
		case <-mAbout.ClickedCh:
			u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("capture-preview")
		case <-mQuit.ClickedCh:
			u.Dispose()
			return
		}
	}
}

func (u *UI) togglePreview() {
	on := !u.preview.Load()
	u.preview.Store(on)
	if on {
		u.mPreview.Check()
	} else {
		u.mPreview.Uncheck()
	}
	u.log.Info().Bool("preview", on).Msg("Toggled preview")
}

func (u *UI) toggleMirror() {
	on := !u.mirror.Load()
	u.mirror.Store(on)
	if on {
		u.mMirror.Check()
	} else {
		u.mMirror.Uncheck()
	}
	u.cfg.Video.Mirror = on
	if err := u.cfg.Save(); err != nil {
		u.log.Error().Err(err).Msg("Failed to save config")
	}
	u.log.Info().Bool("mirror", on).Msg("Toggled mirror")
}

func (u *UI) copyDevices() {
	if u.devices == nil {
		return
	}
	text, err := u.devices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}
	if err := clipboard.WriteAll(text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy to clipboard")
		return
	}
	u.log.Info().Msg("Copied device list to clipboard")
}

// Mirror reports whether preview frames should be flipped.
func (u *UI) Mirror() bool { return u.mirror.Load() }

// Show puts a thumbnail of img in the tray icon, at most every iconInterval.
func (u *UI) Show(img image.Image) {
	u.mu.Lock()
	now := time.Now()
	if now.Sub(u.lastIcon) < iconInterval {
		u.mu.Unlock()
		return
	}
	u.lastIcon = now
	u.mu.Unlock()

	icon, err := encodeIcon(img)
	if err != nil {
		u.log.Debug().Err(err).Msg("Failed to encode preview icon")
		return
	}
	u.setIcon(icon)
}

// Visible is true while the tray is up, not quitting and preview is enabled.
func (u *UI) Visible() bool {
	select {
	case <-u.closed:
		return false
	default:
	}
	return u.ready.Load() && u.preview.Load()
}

// Dispose quits the tray. Safe to call more than once.
func (u *UI) Dispose() {
	u.closeOnce.Do(func() {
		close(u.closed)
		u.quit()
	})
}

// Closed is closed once the user quits or Dispose is called.
func (u *UI) Closed() <-chan struct{} { return u.closed }

// SetStatus updates the title indicator and the status menu line.
func (u *UI) SetStatus(status string) {
	u.setTitle(fmt.Sprintf("🎥 %s", emojiForStatus(status)))
	if u.mStatus != nil {
		u.mStatus.SetTitle(titleForStatus(status))
	}
}

func (u *UI) onExit() {
	u.Dispose()
}

func encodeIcon(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, video.Thumbnail(img, iconSize)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case StatusCapturing:
		return "🔴" // Red - capturing audio and video
	case StatusVideoOnly:
		return "🟡" // Yellow - audio device unavailable
	case StatusStopped:
		return "⚪️" // White - capture ended
	case StatusError:
		return "⚠️"
	default:
		return "🟢" // Green - starting
	}
}

func titleForStatus(status string) string {
	switch status {
	case StatusCapturing:
		return "Capturing audio and video"
	case StatusVideoOnly:
		return "Video only (no audio device)"
	case StatusStopped:
		return "Stopped"
	case StatusError:
		return "Error"
	default:
		return "Starting..."
	}
}
