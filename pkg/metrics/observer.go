package metrics

import "time"

// Event names emitted by the bridge. Tags carry call_sid and stage so
// events from concurrent calls stay distinguishable.
const (
	EventCallStart    = "call_start"
	EventCallEnd      = "call_end"
	EventToolDispatch = "tool_dispatch"
)

// MetricsEvent is one observation. Value depends on the event: call_end
// carries the call duration in seconds, tool_dispatch the handler
// latency in milliseconds.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
