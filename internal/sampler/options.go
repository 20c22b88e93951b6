package sampler

import (
	"time"

	"github.com/rs/zerolog"
)

type options struct {
	log         zerolog.Logger
	onError     func(error)
	fatalSink   bool
	stopTimeout time.Duration
}

func defaultOptions() options {
	return options{
		log:         zerolog.Nop(),
		stopTimeout: 2 * time.Second,
	}
}

type Option func(*options)

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithErrorHandler receives every tick-local failure: *ConversionError,
// *SinkError and ErrCaptureRead. The default logs them at error level.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithFatalSinkErrors ends the schedule on the first sink failure.
func WithFatalSinkErrors() Option {
	return func(o *options) { o.fatalSink = true }
}

// WithStopTimeout bounds Running.Stop. Zero waits indefinitely.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}
