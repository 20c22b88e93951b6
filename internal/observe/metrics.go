// Package observe holds the OpenTelemetry metric instruments for the capture
// pipeline and the Prometheus bridge that exposes them on /metrics.
//
// Tests should build instruments with [NewMetrics] over their own
// [metric.MeterProvider] so they do not share state.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/petems/capture-preview"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// AudioBlocks counts sample blocks delivered to the sink.
	AudioBlocks metric.Int64Counter

	// AudioSamples counts int16 samples delivered to the sink.
	AudioSamples metric.Int64Counter

	// AudioLateness is how far after its scheduled deadline a block reached
	// the sink.
	AudioLateness metric.Float64Histogram

	// AudioErrors counts tick-local failures. Use with attribute:
	//   attribute.String("kind", ...)
	AudioErrors metric.Int64Counter

	// VideoFrames counts grabbed frames. Use with attribute:
	//   attribute.Bool("shown", ...)
	VideoFrames metric.Int64Counter
}

var latenessBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AudioBlocks, err = m.Int64Counter("capture.audio.blocks",
		metric.WithDescription("Sample blocks forwarded to the sink."),
	); err != nil {
		return nil, err
	}
	if met.AudioSamples, err = m.Int64Counter("capture.audio.samples",
		metric.WithDescription("16-bit samples forwarded to the sink."),
	); err != nil {
		return nil, err
	}
	if met.AudioLateness, err = m.Float64Histogram("capture.audio.lateness",
		metric.WithDescription("Delay between a tick's scheduled deadline and delivery of its block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latenessBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioErrors, err = m.Int64Counter("capture.audio.errors",
		metric.WithDescription("Audio tick failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.VideoFrames, err = m.Int64Counter("capture.video.frames",
		metric.WithDescription("Camera frames grabbed, by whether they were shown."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordBlock records one delivered block.
func (m *Metrics) RecordBlock(ctx context.Context, samples int, deadline time.Time) {
	m.AudioBlocks.Add(ctx, 1)
	m.AudioSamples.Add(ctx, int64(samples))
	if !deadline.IsZero() {
		late := time.Since(deadline)
		if late < 0 {
			late = 0
		}
		m.AudioLateness.Record(ctx, late.Seconds())
	}
}

// RecordError counts one audio failure of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.AudioErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFrame counts one grabbed video frame.
func (m *Metrics) RecordFrame(ctx context.Context, shown bool) {
	m.VideoFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("shown", shown)))
}
