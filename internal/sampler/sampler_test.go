package sampler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockHandle replays a script of Available results, then reports steady
// forever. Read fills the buffer with a counting byte pattern.
type mockHandle struct {
	mu       sync.Mutex
	script   []int
	steady   int
	polls    int
	readLens []int
	next     byte

	openErr  error
	startErr error
	opened   bool
	started  bool
	closed   int
	ready    chan struct{}

	// readErr is returned by the first availErrs Available calls, then by
	// the first readErrs Read calls.
	readErr   error
	availErrs int
	readErrs  int
}

func (m *mockHandle) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockHandle) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockHandle) Available() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.availErrs > 0 {
		m.availErrs--
		return 0, m.readErr
	}
	i := m.polls
	m.polls++
	if i < len(m.script) {
		return m.script[i], nil
	}
	return m.steady, nil
}

func (m *mockHandle) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErrs > 0 {
		m.readErrs--
		return 0, m.readErr
	}
	for i := range p {
		p[i] = m.next
		m.next++
	}
	m.readLens = append(m.readLens, len(p))
	return len(p), nil
}

func (m *mockHandle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockHandle) setSteady(n int) {
	m.mu.Lock()
	m.steady = n
	m.mu.Unlock()
}

func (m *mockHandle) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockHandle) pollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// notifyingHandle adds a readiness channel to mockHandle.
type notifyingHandle struct {
	*mockHandle
}

func (n notifyingHandle) Ready() <-chan struct{} { return n.ready }

// collectSink records every block it accepts.
type collectSink struct {
	mu     sync.Mutex
	blocks []Block
	ch     chan Block
}

func newCollectSink() *collectSink {
	return &collectSink{ch: make(chan Block, 1024)}
}

func (c *collectSink) Accept(ctx context.Context, b Block) error {
	c.mu.Lock()
	c.blocks = append(c.blocks, b)
	c.mu.Unlock()
	select {
	case c.ch <- b:
	default:
	}
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

func (c *collectSink) wait(t *testing.T, n int, timeout time.Duration) []Block {
	t.Helper()
	deadline := time.After(timeout)
	got := make([]Block, 0, n)
	for len(got) < n {
		select {
		case b := <-c.ch:
			got = append(got, b)
		case <-deadline:
			t.Fatalf("timed out waiting for %d blocks, got %d", n, len(got))
		}
	}
	return got
}

func testConfig(period time.Duration) Config {
	return Config{
		SampleRate:     44100,
		Channels:       2,
		BytesPerSample: 2,
		TickPeriod:     period,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	valid := testConfig(33 * time.Millisecond)

	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "mono 8kHz", mutate: func(c *Config) { c.SampleRate = 8000; c.Channels = 1 }},
		{name: "zero sample rate", mutate: func(c *Config) { c.SampleRate = 0 }, field: "sample rate", wantErr: true},
		{name: "negative sample rate", mutate: func(c *Config) { c.SampleRate = -44100 }, field: "sample rate", wantErr: true},
		{name: "zero channels", mutate: func(c *Config) { c.Channels = 0 }, field: "channel count", wantErr: true},
		{name: "zero period", mutate: func(c *Config) { c.TickPeriod = 0 }, field: "tick period", wantErr: true},
		{name: "negative period", mutate: func(c *Config) { c.TickPeriod = -time.Second }, field: "tick period", wantErr: true},
		{name: "24-bit samples", mutate: func(c *Config) { c.BytesPerSample = 3 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			s, err := New(cfg, &mockHandle{}, newCollectSink())
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s == nil {
					t.Fatal("expected a sampler")
				}
				return
			}

			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if tt.field != "" {
				var cerr *ConfigError
				if !errors.As(err, &cerr) || cerr.Field != tt.field {
					t.Fatalf("expected ConfigError for %q, got %v", tt.field, err)
				}
			}
		})
	}
}

func TestNewRejectsNilCollaborators(t *testing.T) {
	cfg := testConfig(time.Millisecond)
	if _, err := New(cfg, nil, newCollectSink()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil handle: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(cfg, &mockHandle{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil sink: expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewFillsDefaults(t *testing.T) {
	cfg := testConfig(20 * time.Millisecond)
	cfg.BytesPerSample = 0

	s, err := New(cfg, &mockHandle{}, newCollectSink())
	if err != nil {
		t.Fatal(err)
	}
	got := s.Config()
	if got.BytesPerSample != 2 || got.MaxWait != 20*time.Millisecond || got.PollInterval != time.Millisecond {
		t.Errorf("unexpected defaults: %+v", got)
	}
	if got.BytesPerSecond() != 176400 {
		t.Errorf("expected 176400 bytes per second, got %d", got.BytesPerSecond())
	}
}

func TestStartDeviceUnavailable(t *testing.T) {
	t.Run("open fails", func(t *testing.T) {
		h := &mockHandle{openErr: errors.New("line unavailable")}
		s, _ := New(testConfig(time.Millisecond), h, newCollectSink())

		_, err := s.Start(context.Background())
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
		}
		if h.closeCount() != 0 {
			t.Error("a handle that never opened should not be closed")
		}
	})

	t.Run("start fails", func(t *testing.T) {
		cause := errors.New("busy")
		h := &mockHandle{startErr: cause}
		s, _ := New(testConfig(time.Millisecond), h, newCollectSink())

		_, err := s.Start(context.Background())
		if !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, cause) {
			t.Fatalf("expected ErrDeviceUnavailable wrapping cause, got %v", err)
		}
		if h.closeCount() != 1 {
			t.Errorf("expected handle closed once, got %d", h.closeCount())
		}
	})
}

func TestEndToEndStereo44100(t *testing.T) {
	// 44100 Hz * 2 ch * 2 bytes / 30 ticks = 5880 bytes per nominal tick;
	// the mock hands out 1470 bytes instead, so each block is 735 samples.
	h := &mockHandle{steady: 1470}
	sink := newCollectSink()
	s, err := New(testConfig(5*time.Millisecond), h, sink)
	if err != nil {
		t.Fatal(err)
	}

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	blocks := sink.wait(t, 30, 5*time.Second)
	if err := run.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	total := 0
	for i, b := range blocks {
		if len(b.Samples) != 735 {
			t.Fatalf("block %d: expected 735 samples, got %d", i, len(b.Samples))
		}
		if b.SampleRate != 44100 || b.Channels != 2 {
			t.Fatalf("block %d: unexpected format %d/%d", i, b.SampleRate, b.Channels)
		}
		if i > 0 && b.Seq <= blocks[i-1].Seq {
			t.Fatalf("blocks out of order: %d after %d", b.Seq, blocks[i-1].Seq)
		}
		total += len(b.Samples)
	}
	if total != 22050 {
		t.Errorf("expected 22050 samples over 30 ticks, got %d", total)
	}

	st := run.Stats()
	if st.Blocks < 30 || st.Samples < 22050 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if h.closeCount() != 1 {
		t.Errorf("expected handle closed once, got %d", h.closeCount())
	}
}

func TestSamplesAreLittleEndian(t *testing.T) {
	h := &mockHandle{steady: 4}
	sink := newCollectSink()
	s, _ := New(testConfig(5*time.Millisecond), h, sink)

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b := sink.wait(t, 1, 2*time.Second)[0]
	run.Stop()

	// bytes 00 01 02 03 -> 0x0100, 0x0302
	if len(b.Samples) != 2 || b.Samples[0] != 0x0100 || b.Samples[1] != 0x0302 {
		t.Errorf("unexpected samples %#v", b.Samples)
	}
}

func TestRetriesUntilBytesAvailable(t *testing.T) {
	h := &mockHandle{script: []int{0, 0, 0, 100}}
	sink := newCollectSink()
	cfg := testConfig(50 * time.Millisecond)
	cfg.PollInterval = time.Millisecond

	s, _ := New(cfg, h, sink)
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer run.Stop()

	b := sink.wait(t, 1, 2*time.Second)[0]
	if len(b.Samples) != 50 {
		t.Fatalf("expected 50 samples, got %d", len(b.Samples))
	}
	if b.Seq != 0 {
		t.Errorf("expected the first tick to forward, got seq %d", b.Seq)
	}
	if polls := h.pollCount(); polls < 4 {
		t.Errorf("expected at least 4 polls, got %d", polls)
	}

	// Later ticks see nothing and must not forward.
	time.Sleep(150 * time.Millisecond)
	run.Stop()
	if n := sink.count(); n != 1 {
		t.Errorf("expected exactly 1 block, got %d", n)
	}
	if st := run.Stats(); st.EmptyTicks == 0 {
		t.Errorf("expected empty ticks to be counted, got %+v", st)
	}
}

func TestReadIsCappedAtOneSecondBuffer(t *testing.T) {
	h := &mockHandle{steady: 1 << 20}
	sink := newCollectSink()
	s, _ := New(testConfig(5*time.Millisecond), h, sink)

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b := sink.wait(t, 1, 2*time.Second)[0]
	run.Stop()

	if len(b.Samples) != 176400/2 {
		t.Errorf("expected one second of samples, got %d", len(b.Samples))
	}
}

func TestOddByteCountSkipsTick(t *testing.T) {
	h := &mockHandle{steady: 101}
	sink := newCollectSink()

	errs := make(chan error, 16)
	s, _ := New(testConfig(5*time.Millisecond), h, sink, WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		var cerr *ConversionError
		if !errors.As(err, &cerr) || !errors.Is(err, ErrOddByteCount) {
			t.Fatalf("expected ConversionError, got %v", err)
		}
		if cerr.Bytes != 101 {
			t.Errorf("expected 101 bytes in error, got %d", cerr.Bytes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a conversion error")
	}

	run.Stop()
	if n := sink.count(); n != 0 {
		t.Errorf("expected no blocks from torn reads, got %d", n)
	}
	if st := run.Stats(); st.ConversionErrors == 0 {
		t.Errorf("expected conversion errors counted, got %+v", st)
	}
}

func TestSinkErrorDoesNotStopSchedule(t *testing.T) {
	h := &mockHandle{steady: 8}
	var calls atomic.Int32
	sink := SinkFunc(func(ctx context.Context, b Block) error {
		calls.Add(1)
		return errors.New("encoder full")
	})

	var sinkErrs atomic.Int32
	s, _ := New(testConfig(5*time.Millisecond), h, sink, WithErrorHandler(func(err error) {
		var serr *SinkError
		if errors.As(err, &serr) {
			sinkErrs.Add(1)
		}
	}))

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	run.Stop()

	if calls.Load() < 3 {
		t.Fatalf("expected the schedule to keep running, got %d sink calls", calls.Load())
	}
	if sinkErrs.Load() < 3 {
		t.Errorf("expected sink errors reported, got %d", sinkErrs.Load())
	}
	if run.Err() != nil {
		t.Errorf("expected no terminal error, got %v", run.Err())
	}
}

func TestFatalSinkErrorEndsSchedule(t *testing.T) {
	h := &mockHandle{steady: 8}
	cause := errors.New("disk full")
	sink := SinkFunc(func(ctx context.Context, b Block) error { return cause })

	s, _ := New(testConfig(5*time.Millisecond), h, sink,
		WithFatalSinkErrors(),
		WithErrorHandler(func(error) {}),
	)
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the schedule to end")
	}

	var serr *SinkError
	if !errors.As(run.Err(), &serr) || !errors.Is(run.Err(), cause) {
		t.Fatalf("expected SinkError wrapping cause, got %v", run.Err())
	}
	if h.closeCount() != 1 {
		t.Errorf("expected handle closed, got %d", h.closeCount())
	}
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	h := &mockHandle{steady: 8}

	var ticks atomic.Int32
	entered := make(chan struct{}, 1)
	var finished atomic.Bool
	sink := SinkFunc(func(ctx context.Context, b Block) error {
		if ticks.Add(1) == 1 {
			entered <- struct{}{}
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
		}
		return nil
	})

	s, _ := New(testConfig(5*time.Millisecond), h, sink)
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	<-entered
	if err := run.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight tick finished")
	}

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Errorf("ticks kept arriving after Stop: %d -> %d", after, got)
	}
	if h.closeCount() != 1 {
		t.Errorf("expected handle closed once, got %d", h.closeCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := &mockHandle{steady: 8}
	s, _ := New(testConfig(5*time.Millisecond), h, newCollectSink())

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := run.Stop(); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	if h.closeCount() != 1 {
		t.Errorf("expected handle closed once, got %d", h.closeCount())
	}

	// A stopped sampler can be started again.
	again, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	again.Stop()
}

func TestStopTimeout(t *testing.T) {
	h := &mockHandle{steady: 8}
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	sink := SinkFunc(func(ctx context.Context, b Block) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	s, _ := New(testConfig(5*time.Millisecond), h, sink, WithStopTimeout(20*time.Millisecond))
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	<-entered

	if err := run.Stop(); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	close(release)

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the loop to exit after the tick was released")
	}
	if h.closeCount() != 1 {
		t.Errorf("expected handle closed once, got %d", h.closeCount())
	}
}

func TestContextCancelEndsSchedule(t *testing.T) {
	h := &mockHandle{steady: 8}
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := New(testConfig(5*time.Millisecond), h, newCollectSink(), WithLogger(zerolog.Nop()))

	run, err := s.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the schedule to end on cancel")
	}
	if run.Err() != nil {
		t.Errorf("cancel is not a failure, got %v", run.Err())
	}
}

func TestNotifierWakesDrain(t *testing.T) {
	base := &mockHandle{ready: make(chan struct{}, 1)}
	h := notifyingHandle{base}
	sink := newCollectSink()

	cfg := testConfig(time.Second)
	cfg.PollInterval = time.Second
	s, _ := New(cfg, h, sink)

	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer run.Stop()

	time.Sleep(20 * time.Millisecond)
	base.setSteady(16)
	start := time.Now()
	base.ready <- struct{}{}

	b := sink.wait(t, 1, 900*time.Millisecond)[0]
	if len(b.Samples) != 8 {
		t.Errorf("expected 8 samples, got %d", len(b.Samples))
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Errorf("readiness signal should wake the drain promptly, took %v", waited)
	}
}

func TestBlockDuration(t *testing.T) {
	b := Block{Samples: make([]int16, 735*2), SampleRate: 44100, Channels: 2}
	if b.Frames() != 735 {
		t.Errorf("expected 735 frames, got %d", b.Frames())
	}
	if got := b.Duration(); got != 735*time.Second/44100 {
		t.Errorf("unexpected duration %v", got)
	}
}

func TestNoSinkCallAfterTimedOutStop(t *testing.T) {
	h := &mockHandle{steady: 8}
	release := make(chan struct{})
	var calls atomic.Int32
	sink := SinkFunc(func(ctx context.Context, b Block) error {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil
	})

	s, _ := New(testConfig(5*time.Millisecond), h, sink, WithStopTimeout(20*time.Millisecond))
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := run.Stop(); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	close(release)
	<-run.Done()
	time.Sleep(30 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected only the in-flight sink call, got %d", got)
	}
}

func TestReadErrorSkipsTick(t *testing.T) {
	cause := errors.New("device unplugged")
	h := &mockHandle{steady: 8, readErrs: 2, readErr: cause}
	sink := newCollectSink()

	var mu sync.Mutex
	var reported []error
	s, _ := New(testConfig(5*time.Millisecond), h, sink, WithErrorHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	blocks := sink.wait(t, 2, 2*time.Second)
	run.Stop()

	st := run.Stats()
	if st.ReadErrors != 2 {
		t.Errorf("expected 2 read errors, got %d", st.ReadErrors)
	}
	if blocks[0].Seq != 2 {
		t.Errorf("expected the failed ticks to forward nothing, first block is tick %d", blocks[0].Seq)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 2 {
		t.Fatalf("expected 2 reported errors, got %d", len(reported))
	}
	for _, err := range reported {
		if !errors.Is(err, ErrCaptureRead) || !errors.Is(err, cause) {
			t.Errorf("expected ErrCaptureRead wrapping the cause, got %v", err)
		}
	}
	if run.Err() != nil {
		t.Errorf("read errors should not end the schedule, got %v", run.Err())
	}
}

func TestAvailableErrorSkipsTick(t *testing.T) {
	h := &mockHandle{steady: 8, availErrs: 1, readErr: errors.New("stream closed")}
	sink := newCollectSink()

	s, _ := New(testConfig(5*time.Millisecond), h, sink, WithErrorHandler(func(error) {}))
	run, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sink.wait(t, 1, 2*time.Second)
	run.Stop()

	if st := run.Stats(); st.ReadErrors != 1 {
		t.Errorf("expected 1 read error, got %d", st.ReadErrors)
	}
}
