// Package telemetryfake provides an in-memory telemetry.Metrics and
// telemetry.Tracer pair that record what they were called with, for
// assertions in other packages' tests.
package telemetryfake

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/a2a-engine/runtime/telemetry"
)

// Counter is one recorded IncCounter call.
type Counter struct {
	Name  string
	Value float64
	Tags  []string
}

// Metrics records every counter, timer, and gauge call it receives.
type Metrics struct {
	mu       sync.Mutex
	Counters []Counter
	Gauges   []Counter
}

// NewMetrics constructs an empty Metrics recorder.
func NewMetrics() *Metrics { return &Metrics{} }

// IncCounter records a counter increment.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters = append(m.Counters, Counter{Name: name, Value: value, Tags: tags})
}

// RecordTimer discards the timer; no test currently asserts on it.
func (m *Metrics) RecordTimer(string, time.Duration, ...string) {}

// RecordGauge records a gauge observation.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges = append(m.Gauges, Counter{Name: name, Value: value, Tags: tags})
}

// CounterTotal sums every recorded IncCounter call for name.
func (m *Metrics) CounterTotal(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, c := range m.Counters {
		if c.Name == name {
			total += c.Value
		}
	}
	return total
}

var _ telemetry.Metrics = (*Metrics)(nil)

// Tracer records the name of every span started.
type Tracer struct {
	mu    sync.Mutex
	Spans []string
}

// NewTracer constructs an empty Tracer recorder.
func NewTracer() *Tracer { return &Tracer{} }

// Start records name and returns a span that records errors.
func (t *Tracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	t.mu.Lock()
	t.Spans = append(t.Spans, name)
	t.mu.Unlock()
	return ctx, &fakeSpan{}
}

// Span returns a fresh no-op span; the fake does not track active spans
// per context.
func (t *Tracer) Span(context.Context) telemetry.Span { return &fakeSpan{} }

// Started reports whether a span named name was started.
func (t *Tracer) Started(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.Spans {
		if s == name {
			return true
		}
	}
	return false
}

var _ telemetry.Tracer = (*Tracer)(nil)

type fakeSpan struct {
	mu      sync.Mutex
	Errors  []error
	ended   bool
}

func (s *fakeSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *fakeSpan) AddEvent(string, ...any) {}

func (s *fakeSpan) SetStatus(codes.Code, string) {}

func (s *fakeSpan) RecordError(err error, _ ...trace.EventOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, err)
}

var _ telemetry.Span = (*fakeSpan)(nil)
