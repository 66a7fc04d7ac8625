// Package model defines the core data structures flowing through the sink.
package model

import (
	"time"
)

// LogRecord represents a single structured log event handed to the sink.
// The sink wraps it for transport but never interprets its fields.
type LogRecord struct {
	// Timestamp is when the event was produced by the application.
	Timestamp time.Time

	// Level is the severity label as emitted by the application.
	Level string

	// Message is the event's message template (or rendered message).
	Message string

	// Properties holds structured event data.
	// Keys are field names, values can be arbitrarily nested JSON-compatible types.
	Properties map[string]any
}

// NewLogRecord creates a new LogRecord with an initialized Properties map
// and current timestamp.
func NewLogRecord(level, message string) *LogRecord {
	return &LogRecord{
		Timestamp:  time.Now(),
		Level:      level,
		Message:    message,
		Properties: make(map[string]any),
	}
}

// Clone creates a shallow-value, deep-map copy of the LogRecord.
// Useful when a producer reuses record objects across emits.
func (r *LogRecord) Clone() *LogRecord {
	clone := &LogRecord{
		Timestamp:  r.Timestamp,
		Level:      r.Level,
		Message:    r.Message,
		Properties: make(map[string]any, len(r.Properties)),
	}
	for k, v := range r.Properties {
		clone.Properties[k] = v
	}
	return clone
}
