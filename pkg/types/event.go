package types

import "time"

// EventKind categorizes a raw telemetry event.
type EventKind string

const (
	KindLog    EventKind = "log"
	KindSpan   EventKind = "span"
	KindMetric EventKind = "metric"
)

// Event is a single raw telemetry event as delivered by the ingestion
// subsystem. Events are append-only: InsertTime is assigned at ingestion
// and only ever grows within a stream, while EventTime is the time the
// instrumented process recorded.
type Event struct {
	// StreamID identifies the source stream (one per instrumented
	// process/thread).
	StreamID string `json:"stream_id"`

	// Kind is the event category: log, span, or metric.
	Kind EventKind `json:"kind"`

	// Name is the log target, span name, or metric name.
	Name string `json:"name"`

	// EventTime is when the event occurred in the instrumented process.
	EventTime time.Time `json:"event_time"`

	// InsertTime is when the ingestion subsystem durably recorded the event.
	InsertTime time.Time `json:"insert_time"`

	// DurationNs is the span duration in nanoseconds (spans only).
	DurationNs int64 `json:"duration_ns,omitempty"`

	// Value is the metric sample value (metrics only).
	Value float64 `json:"value,omitempty"`

	// Unit is the metric sample unit (metrics only).
	Unit string `json:"unit,omitempty"`

	// Msg is the formatted message for log events.
	Msg string `json:"msg,omitempty"`

	// Level is the severity for log events (lower is more severe).
	Level int32 `json:"level,omitempty"`

	// Properties is the event's key/value property bag.
	Properties map[string]string `json:"properties,omitempty"`
}
