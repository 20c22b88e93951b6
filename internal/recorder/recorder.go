// Package recorder provides sample sinks: a 16-bit PCM WAV file writer and
// small combinators for fanning out, discarding and metering blocks.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/capture-preview/internal/observe"
	"github.com/petems/capture-preview/internal/sampler"
)

const (
	bitDepth  = 16
	pcmFormat = 1
)

var ErrClosed = errors.New("recorder closed")

// WAV appends blocks to a WAV file. The header is finalised on Close.
type WAV struct {
	path       string
	sampleRate int
	channels   int

	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	frames int64
	closed bool
}

// NewWAV creates (or truncates) path and prepares a 16-bit PCM encoder.
func NewWAV(path string, sampleRate, channels int) (*WAV, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format %d Hz, %d channels", sampleRate, channels)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &WAV{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		f:          f,
		enc:        wav.NewEncoder(f, sampleRate, bitDepth, channels, pcmFormat),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

func (w *WAV) Path() string { return w.path }

// Accept writes one block. A block whose format differs from the file's is
// rejected.
func (w *WAV) Accept(ctx context.Context, b sampler.Block) error {
	if b.SampleRate != w.sampleRate || b.Channels != w.channels {
		return fmt.Errorf("block format %d Hz/%d ch does not match file %d Hz/%d ch",
			b.SampleRate, b.Channels, w.sampleRate, w.channels)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	if cap(w.buf.Data) < len(b.Samples) {
		w.buf.Data = make([]int, len(b.Samples))
	}
	w.buf.Data = w.buf.Data[:len(b.Samples)]
	for i, s := range b.Samples {
		w.buf.Data[i] = int(s)
	}

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.frames += int64(b.Frames())
	return nil
}

// Frames returns the number of sample frames written so far.
func (w *WAV) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	return errors.Join(w.enc.Close(), w.f.Close())
}

// Multi forwards each block to every sink in order and joins their errors.
func Multi(sinks ...sampler.Sink) sampler.Sink {
	return sampler.SinkFunc(func(ctx context.Context, b sampler.Block) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Accept(ctx, b); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Discard accepts and drops every block.
var Discard sampler.Sink = sampler.SinkFunc(func(context.Context, sampler.Block) error { return nil })

// Metered records block counts, sample counts and lateness for blocks that
// next accepted without error.
func Metered(next sampler.Sink, m *observe.Metrics) sampler.Sink {
	return sampler.SinkFunc(func(ctx context.Context, b sampler.Block) error {
		if err := next.Accept(ctx, b); err != nil {
			return err
		}
		m.RecordBlock(ctx, len(b.Samples), b.Deadline)
		return nil
	})
}
