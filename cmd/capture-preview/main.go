package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/capture-preview/internal/app"
	"github.com/petems/capture-preview/internal/audio"
	"github.com/petems/capture-preview/internal/config"
	"github.com/petems/capture-preview/internal/logging"
	"github.com/petems/capture-preview/internal/observe"
	"github.com/petems/capture-preview/internal/permissions"
	"github.com/petems/capture-preview/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit camera + microphone approval before capture works
	perms, err := permissions.EnsurePermissions(cfg.Audio.Enabled)
	if err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	// Without the microphone the preview still runs. The tray keeps cfg and
	// may save it, so audio is switched off on a copy.
	appCfg := cfg
	if perms.MicrophoneDenied() {
		log.Warn().Stringer("microphone", perms.Microphone).Msg("Microphone permission not granted, continuing with video only")
		runCfg := *cfg
		runCfg.Audio.Enabled = false
		appCfg = &runCfg
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metrics *observe.Metrics
	if cfg.MetricsAddr != "" {
		provider, err := observe.InitProvider()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize metrics")
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := provider.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("Metrics shutdown error")
			}
		}()
		metrics = provider.Metrics
		go func() {
			if err := provider.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	appDone := make(chan struct{})
	var trayUI *tray.UI
	trayUI = tray.New(tray.Options{
		Config:  cfg,
		Version: Version,
		Commit:  Commit,
		Logger:  log.With().Str("component", "tray").Logger(),
		Devices: func() (string, error) {
			devices, err := audio.ListDevices()
			if err != nil {
				return "", err
			}
			return audio.FormatDevices(devices), nil
		},
		// The capture contexts start once the tray can display frames.
		OnReady: func() {
			defer close(appDone)
			application := app.New(app.Config{
				Config:  appCfg,
				Logger:  log,
				Display: trayUI,
				Mirror:  trayUI.Mirror,
				Metrics: metrics,
				Status:  trayUI,
			})
			if err := application.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Capture failed")
				trayUI.SetStatus(tray.StatusError)
			}
		},
	})

	log.Info().Str("version", Version).Msg("capture-preview starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}

	cancel()
	select {
	case <-appDone:
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("Capture did not stop in time")
	}
	log.Info().Msg("Stopped")
}
