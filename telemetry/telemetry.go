// Package telemetry provides a thin facade over the OpenTelemetry API for the
// reminder engine. Components call these helpers unconditionally; when no
// meter or tracer provider is registered the calls are no-ops, so the core
// never depends on exporter wiring.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "remind"

var (
	meterOnce sync.Once
	meter     metric.Meter

	countersMu sync.RWMutex
	counters   = map[string]metric.Int64Counter{}

	histogramsMu sync.RWMutex
	histograms   = map[string]metric.Float64Histogram{}
)

func getMeter() metric.Meter {
	meterOnce.Do(func() {
		meter = otel.Meter(meterName)
	})
	return meter
}

// Counter increments a named counter by 1. Labels are alternating key/value
// pairs; an odd trailing key is dropped.
func Counter(name string, labels ...string) {
	Add(name, 1, labels...)
}

// Add increments a named counter by value.
func Add(name string, value int64, labels ...string) {
	countersMu.RLock()
	c, ok := counters[name]
	countersMu.RUnlock()
	if !ok {
		var err error
		c, err = getMeter().Int64Counter(name)
		if err != nil {
			return
		}
		countersMu.Lock()
		counters[name] = c
		countersMu.Unlock()
	}
	c.Add(context.Background(), value, metric.WithAttributes(pairsToAttrs(labels)...))
}

// Duration records the elapsed time since startTime in milliseconds on a
// histogram. Typical usage:
//
//	defer telemetry.Duration("reminder.dispatch.tick", time.Now())
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

// Histogram records a value on a named histogram.
func Histogram(name string, value float64, labels ...string) {
	histogramsMu.RLock()
	h, ok := histograms[name]
	histogramsMu.RUnlock()
	if !ok {
		var err error
		h, err = getMeter().Float64Histogram(name)
		if err != nil {
			return
		}
		histogramsMu.Lock()
		histograms[name] = h
		histogramsMu.Unlock()
	}
	h.Record(context.Background(), value, metric.WithAttributes(pairsToAttrs(labels)...))
}

// AddSpanEvent adds an event to the current span if one is recording.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records an error on the current span if one is recording.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}

// StartSpan starts a child span from ctx using the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(meterName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func pairsToAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
