// Package sampler paces audio capture: on a fixed-rate schedule it drains
// whatever bytes a capture handle has buffered, reinterprets them as 16-bit
// little-endian samples and hands each block to a Sink.
//
// A Sampler runs its ticks on a single goroutine, so ticks never overlap and
// blocks reach the sink in tick order. Running.Stop waits for an in-flight
// tick and closes the capture handle before returning.
package sampler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CaptureHandle is a driver-level audio input stream.
type CaptureHandle interface {
	Open() error
	Start() error
	// Available reports how many bytes can be read without blocking.
	Available() (int, error)
	// Read reads at most len(p) bytes.
	Read(p []byte) (int, error)
	Close() error
}

// Notifier is implemented by handles that can signal when data arrives.
// The drain step waits on Ready instead of sleeping between polls.
type Notifier interface {
	Ready() <-chan struct{}
}

// Block is one tick's worth of samples. Samples is freshly allocated for
// every block and may be retained by the sink.
type Block struct {
	Seq        uint64
	Deadline   time.Time
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b Block) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns how much audio the block holds.
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Sink receives sample blocks. Accept is called synchronously from the tick.
type Sink interface {
	Accept(ctx context.Context, b Block) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, b Block) error

func (f SinkFunc) Accept(ctx context.Context, b Block) error { return f(ctx, b) }

// Config is the immutable capture configuration.
type Config struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
	TickPeriod     time.Duration

	// MaxWait bounds how long one tick waits for data before giving up.
	// Zero means one TickPeriod.
	MaxWait time.Duration
	// PollInterval is the pause between Available queries. Zero means 1ms.
	PollInterval time.Duration
}

// BytesPerSecond is the nominal capture rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.BytesPerSample
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return &ConfigError{Field: "sample rate", Value: c.SampleRate}
	case c.Channels <= 0:
		return &ConfigError{Field: "channel count", Value: c.Channels}
	case c.TickPeriod <= 0:
		return &ConfigError{Field: "tick period", Value: c.TickPeriod}
	case c.BytesPerSample != BytesPerSample:
		return fmt.Errorf("%w: bytes per sample must be %d, got %d", ErrInvalidConfig, BytesPerSample, c.BytesPerSample)
	case c.MaxWait < 0:
		return fmt.Errorf("%w: max wait must not be negative", ErrInvalidConfig)
	case c.PollInterval < 0:
		return fmt.Errorf("%w: poll interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Stats are cumulative counters for one run.
type Stats struct {
	Ticks            uint64
	Blocks           uint64
	Samples          uint64
	EmptyTicks       uint64
	ConversionErrors uint64
	ReadErrors       uint64
	SinkErrors       uint64
}

type counters struct {
	ticks, blocks, samples, empty, conversion, read, sink atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Ticks:            c.ticks.Load(),
		Blocks:           c.blocks.Load(),
		Samples:          c.samples.Load(),
		EmptyTicks:       c.empty.Load(),
		ConversionErrors: c.conversion.Load(),
		ReadErrors:       c.read.Load(),
		SinkErrors:       c.sink.Load(),
	}
}

// Sampler is a configured, not yet running, paced reader.
type Sampler struct {
	cfg    Config
	handle CaptureHandle
	sink   Sink
	opts   options

	mu      sync.Mutex
	running *Running
}

// New validates cfg and builds a Sampler. It fails with ErrInvalidConfig for
// non-positive rate, channel count or period, or a nil handle or sink.
func New(cfg Config, handle CaptureHandle, sink Sink, opts ...Option) (*Sampler, error) {
	if cfg.BytesPerSample == 0 {
		cfg.BytesPerSample = BytesPerSample
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, fmt.Errorf("%w: nil capture handle", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = cfg.TickPeriod
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.onError == nil {
		log := o.log
		o.onError = func(err error) {
			log.Error().Err(err).Msg("Audio tick failed")
		}
	}

	return &Sampler{cfg: cfg, handle: handle, sink: sink, opts: o}, nil
}

// Config returns the effective configuration, with defaults filled in.
func (s *Sampler) Config() Config { return s.cfg }

// Start opens and starts the capture handle and begins ticking. The first
// tick is due immediately. Cancelling ctx ends the schedule as Stop would.
func (s *Sampler) Start(ctx context.Context) (*Running, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		return nil, ErrAlreadyRunning
	}

	if err := s.handle.Open(); err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	if err := s.handle.Start(); err != nil {
		if cerr := s.handle.Close(); cerr != nil {
			s.opts.log.Warn().Err(cerr).Msg("Failed to close capture handle")
		}
		return nil, &DeviceError{Op: "start", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Running{
		s:      s,
		cancel: cancel,
		done:   make(chan struct{}),
		buf:    make([]byte, s.cfg.BytesPerSecond()),
		sched:  newSchedule(time.Now(), s.cfg.TickPeriod),
	}
	s.running = r

	s.opts.log.Info().
		Int("sample_rate", s.cfg.SampleRate).
		Int("channels", s.cfg.Channels).
		Dur("period", s.cfg.TickPeriod).
		Msg("Audio sampler started")

	go r.loop(runCtx)
	return r, nil
}

// Running is a started Sampler.
type Running struct {
	s      *Sampler
	cancel context.CancelFunc
	done   chan struct{}
	buf    []byte
	sched  *schedule

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error

	errMu sync.Mutex
	err   error

	stats counters
}

// Stop cancels the schedule, waits for any in-flight tick to finish and
// releases the capture handle. It is safe to call more than once. No tick
// starts after Stop is entered, and a tick that has not yet reached its sink
// call skips it. A sink call that was already under way is waited for; if
// the stop timeout elapses first Stop returns ErrStopTimeout and that one
// call may finish after Stop has returned.
func (r *Running) Stop() error {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		r.cancel()

		timeout := r.s.opts.stopTimeout
		if timeout <= 0 {
			<-r.done
			return
		}

		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-r.done:
		case <-t.C:
			r.stopErr = ErrStopTimeout
			r.s.opts.log.Warn().Dur("timeout", timeout).Msg("Audio sampler did not stop in time")
		}
	})
	return r.stopErr
}

// Done is closed once the schedule has ended and the handle is closed.
func (r *Running) Done() <-chan struct{} { return r.done }

// Err reports why the schedule ended on its own, e.g. a fatal sink error.
// It is nil while running and after a plain Stop.
func (r *Running) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Running) Stats() Stats { return r.stats.snapshot() }

func (r *Running) loop(ctx context.Context) {
	defer close(r.done)
	defer r.finish()

	for k := uint64(0); ; k++ {
		if !r.sched.wait(ctx, k) {
			return
		}
		if err := r.tick(ctx, k); err != nil {
			r.errMu.Lock()
			r.err = err
			r.errMu.Unlock()
			return
		}
	}
}

func (r *Running) finish() {
	r.sched.stop()
	if err := r.s.handle.Close(); err != nil {
		r.s.opts.log.Warn().Err(err).Msg("Failed to close capture handle")
	}

	st := r.stats.snapshot()
	r.s.opts.log.Info().
		Uint64("ticks", st.Ticks).
		Uint64("blocks", st.Blocks).
		Uint64("samples", st.Samples).
		Msg("Audio sampler stopped")

	r.s.mu.Lock()
	if r.s.running == r {
		r.s.running = nil
	}
	r.s.mu.Unlock()
}

// tick runs one drain, convert, forward cycle. Only a fatal sink error is
// returned; everything else is reported and the tick skipped.
func (r *Running) tick(ctx context.Context, k uint64) error {
	r.stats.ticks.Add(1)
	cfg := r.s.cfg

	n, err := r.drain(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.stats.read.Add(1)
		r.s.opts.onError(fmt.Errorf("%w: %w", ErrCaptureRead, err))
		return nil
	}
	if n == 0 {
		r.stats.empty.Add(1)
		r.s.opts.log.Debug().Uint64("tick", k).Msg("No audio available")
		return nil
	}

	if n%cfg.BytesPerSample != 0 {
		r.stats.conversion.Add(1)
		r.s.opts.onError(&ConversionError{Bytes: n, Width: cfg.BytesPerSample})
		return nil
	}
	samples, err := DecodeS16LE(r.buf[:n])
	if err != nil {
		r.stats.conversion.Add(1)
		r.s.opts.onError(err)
		return nil
	}

	block := Block{
		Seq:        k,
		Deadline:   r.sched.deadline(k),
		Samples:    samples,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}

	// Last check before the sink. A call already past it runs to completion.
	if r.stopping.Load() {
		return nil
	}
	if err := r.s.sink.Accept(ctx, block); err != nil {
		r.stats.sink.Add(1)
		serr := &SinkError{Seq: k, Err: err}
		r.s.opts.onError(serr)
		if r.s.opts.fatalSink {
			return serr
		}
		return nil
	}

	r.stats.blocks.Add(1)
	r.stats.samples.Add(uint64(len(samples)))
	return nil
}

// drain reads whatever is buffered on the handle. When nothing is there it
// polls again, bounded by MaxWait; giving up returns 0 bytes and no error.
func (r *Running) drain(ctx context.Context) (int, error) {
	h := r.s.handle
	cfg := r.s.cfg
	giveUp := time.Now().Add(cfg.MaxWait)

	var ready <-chan struct{}
	if n, ok := h.(Notifier); ok {
		ready = n.Ready()
	}

	for {
		avail, err := h.Available()
		if err != nil {
			return 0, err
		}
		if avail > 0 {
			if avail > len(r.buf) {
				avail = len(r.buf)
			}
			n, err := h.Read(r.buf[:avail])
			if err != nil {
				return 0, err
			}
			if n > 0 {
				return n, nil
			}
		}

		remaining := time.Until(giveUp)
		if remaining <= 0 {
			return 0, nil
		}
		pause := cfg.PollInterval
		if pause > remaining {
			pause = remaining
		}

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-ready:
		case <-t.C:
		}
		t.Stop()
	}
}
