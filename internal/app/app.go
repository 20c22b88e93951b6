package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/petems/capture-preview/internal/audio"
	"github.com/petems/capture-preview/internal/config"
	"github.com/petems/capture-preview/internal/observe"
	"github.com/petems/capture-preview/internal/recorder"
	"github.com/petems/capture-preview/internal/sampler"
	"github.com/petems/capture-preview/internal/tray"
	"github.com/petems/capture-preview/internal/video"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetStatus(status string)
}

type Config struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Display video.Display
	Mirror  func() bool      // Optional - defaults to Config.Video.Mirror
	Metrics *observe.Metrics // Optional
	Status  StatusUpdater    // Optional - can be nil

	// Device factories; the defaults use PortAudio and mediadevices.
	OpenAudio  func(config.AudioConfig) sampler.CaptureHandle
	OpenCamera func(config.VideoConfig) (video.Camera, error)
}

// App runs the audio sampler and the video preview side by side. They share
// no state; the preview ending shuts the audio side down.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	display video.Display
	mirror  func() bool
	metrics *observe.Metrics
	status  StatusUpdater

	openAudio  func(config.AudioConfig) sampler.CaptureHandle
	openCamera func(config.VideoConfig) (video.Camera, error)
}

var errPreviewEnded = errors.New("preview ended")

func New(cfg Config) *App {
	a := &App{
		cfg:        cfg.Config,
		log:        cfg.Logger,
		display:    cfg.Display,
		mirror:     cfg.Mirror,
		metrics:    cfg.Metrics,
		status:     cfg.Status,
		openAudio:  cfg.OpenAudio,
		openCamera: cfg.OpenCamera,
	}
	if a.mirror == nil {
		mirror := cfg.Config.Video.Mirror
		a.mirror = func() bool { return mirror }
	}
	if a.openAudio == nil {
		a.openAudio = func(c config.AudioConfig) sampler.CaptureHandle {
			return audio.New(c, a.log.With().Str("component", "audio").Logger())
		}
	}
	if a.openCamera == nil {
		a.openCamera = func(c config.VideoConfig) (video.Camera, error) {
			return video.OpenCamera(c, a.log.With().Str("component", "video").Logger())
		}
	}
	return a
}

// Run blocks until the preview ends or ctx is cancelled, then stops audio
// capture. Audio failures are logged and never end the run.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.runAudio(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.runVideo(gctx); err != nil {
			return err
		}
		return errPreviewEnded
	})

	err := g.Wait()
	a.setStatus(tray.StatusStopped)
	if errors.Is(err, errPreviewEnded) {
		return nil
	}
	return err
}

func (a *App) runVideo(ctx context.Context) error {
	cam, err := a.openCamera(a.cfg.Video)
	if err != nil {
		a.log.Error().Err(err).Msg("Camera unavailable")
		a.display.Dispose()
		return nil
	}

	p := &video.Preview{
		Camera:  cam,
		Display: a.display,
		Mirror:  a.mirror,
		Metrics: a.metrics,
		Logger:  a.log.With().Str("component", "video").Logger(),
	}
	if err := p.Run(ctx); err != nil {
		// A failing camera ends the preview like end of stream does.
		a.log.Error().Err(err).Msg("Video preview failed")
	}
	return nil
}

func (a *App) runAudio(ctx context.Context) {
	acfg := a.cfg.Audio
	if !acfg.Enabled {
		a.log.Info().Msg("Audio capture disabled")
		a.setStatus(tray.StatusVideoOnly)
		return
	}
	log := a.log.With().Str("component", "audio").Logger()

	sink, closeSink, err := a.buildSink(acfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open recording")
		a.setStatus(tray.StatusVideoOnly)
		return
	}
	defer closeSink()

	s, err := sampler.New(sampler.Config{
		SampleRate:     acfg.SampleRate,
		Channels:       acfg.Channels,
		BytesPerSample: sampler.BytesPerSample,
		TickPeriod:     sampler.PeriodForRate(acfg.FrameRate),
		MaxWait:        acfg.MaxWait.Std(),
		PollInterval:   acfg.PollEvery.Std(),
	}, a.openAudio(acfg), sink,
		sampler.WithLogger(log),
		sampler.WithErrorHandler(a.reportAudioError(ctx, log)),
		sampler.WithStopTimeout(acfg.StopTimeout.Std()),
	)
	if err != nil {
		log.Error().Err(err).Msg("Invalid audio configuration")
		a.setStatus(tray.StatusVideoOnly)
		return
	}

	run, err := s.Start(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Audio unavailable, continuing with video only")
		a.setStatus(tray.StatusVideoOnly)
		return
	}
	a.setStatus(tray.StatusCapturing)

	select {
	case <-ctx.Done():
	case <-run.Done():
		if err := run.Err(); err != nil {
			log.Error().Err(err).Msg("Audio capture ended")
			a.setStatus(tray.StatusVideoOnly)
		}
	}

	if err := run.Stop(); err != nil {
		log.Warn().Err(err).Msg("Audio stop")
	}
	st := run.Stats()
	log.Info().
		Uint64("blocks", st.Blocks).
		Uint64("empty_ticks", st.EmptyTicks).
		Uint64("errors", st.ConversionErrors+st.ReadErrors+st.SinkErrors).
		Msg("Audio summary")
}

// buildSink returns the WAV recorder when a record path is set, otherwise a
// discarding sink, wrapped with metrics when enabled.
func (a *App) buildSink(acfg config.AudioConfig) (sampler.Sink, func(), error) {
	var (
		sink      sampler.Sink = recorder.Discard
		closeSink              = func() {}
	)

	if acfg.RecordPath != "" {
		path := acfg.RecordPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(config.RecordingsPath(), path)
		}
		w, err := recorder.NewWAV(path, acfg.SampleRate, acfg.Channels)
		if err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", path, err)
		}
		a.log.Info().Str("path", w.Path()).Msg("Recording audio")
		sink = w
		closeSink = func() {
			if err := w.Close(); err != nil {
				a.log.Error().Err(err).Msg("Failed to finalise recording")
			}
		}
	}

	if a.metrics != nil {
		sink = recorder.Metered(sink, a.metrics)
	}
	return sink, closeSink, nil
}

func (a *App) reportAudioError(ctx context.Context, log zerolog.Logger) func(error) {
	return func(err error) {
		kind := errorKind(err)
		log.Error().Err(err).Str("kind", kind).Msg("Audio tick failed")
		if a.metrics != nil {
			a.metrics.RecordError(ctx, kind)
		}
	}
}

func errorKind(err error) string {
	var serr *sampler.SinkError
	switch {
	case errors.Is(err, sampler.ErrOddByteCount):
		return "conversion"
	case errors.As(err, &serr):
		return "sink"
	case errors.Is(err, sampler.ErrCaptureRead):
		return "read"
	default:
		return "other"
	}
}

func (a *App) setStatus(status string) {
	if a.status != nil {
		a.status.SetStatus(status)
	}
}
