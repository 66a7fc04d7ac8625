// Package encoder serializes batches of log records into the ingestion
// payload format: a JSON array of envelope objects, each carrying a
// server-side TimeGenerated stamp and the serialized event.
package encoder

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
	"unicode"

	"github.com/GabrielNunesIT/azmon-sink/internal/model"
)

// SerializationError reports a batch that could not be encoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "encoding batch: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Naming selects how event field names are written in the payload.
type Naming string

const (
	// NamingDefault writes field names as supplied.
	NamingDefault Naming = "default"

	// NamingCamelCase rewrites field names to lowerCamelCase.
	NamingCamelCase Naming = "camelcase"
)

// MarshalFunc serializes one record into its event payload. Applications
// can supply their own serializer, which is used unchanged in place of the
// built-in encoding.
type MarshalFunc func(rec *model.LogRecord) ([]byte, error)

const (
	depthPlaceholder = "[max depth exceeded]"
	cyclePlaceholder = "[cycle detected]"
)

// envelope wraps one record for the ingestion API. The envelope field names
// are part of the wire contract and are not subject to the naming strategy.
type envelope struct {
	TimeGenerated string          `json:"TimeGenerated"`
	Event         json.RawMessage `json:"Event"`
}

// Encoder renders batches of records into ingestion payloads.
type Encoder struct {
	naming   Naming
	maxDepth int
	marshal  MarshalFunc
	now      func() time.Time
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithMarshalFunc sets an application-provided event serializer. The naming
// strategy and depth limit do not apply to its output.
func WithMarshalFunc(f MarshalFunc) Option {
	return func(e *Encoder) {
		e.marshal = f
	}
}

// WithClock sets the time source used for TimeGenerated stamps (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Encoder) {
		e.now = now
	}
}

// New creates an encoder with the given naming strategy and depth limit.
func New(naming Naming, maxDepth int, opts ...Option) *Encoder {
	e := &Encoder{
		naming:   naming,
		maxDepth: maxDepth,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode renders a batch as a JSON array of envelopes, preserving record
// order. TimeGenerated is stamped at encode time in UTC.
func (e *Encoder) Encode(batch []*model.LogRecord) ([]byte, error) {
	ts := e.now().UTC().Format(time.RFC3339Nano)

	envelopes := make([]envelope, 0, len(batch))
	for _, rec := range batch {
		event, err := e.encodeEvent(rec)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		envelopes = append(envelopes, envelope{
			TimeGenerated: ts,
			Event:         event,
		})
	}

	data, err := json.Marshal(envelopes)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}

// encodeEvent serializes one record, either through the application-provided
// serializer or the built-in encoding.
func (e *Encoder) encodeEvent(rec *model.LogRecord) (json.RawMessage, error) {
	if e.marshal != nil {
		return e.marshal(rec)
	}

	event := map[string]any{
		e.fieldName("Timestamp"):  rec.Timestamp.UTC().Format(time.RFC3339Nano),
		e.fieldName("Level"):      rec.Level,
		e.fieldName("Message"):    rec.Message,
		e.fieldName("Properties"): e.sanitize(rec.Properties, 1, make(map[uintptr]struct{})),
	}
	return json.Marshal(event)
}

// sanitize walks a property value, applying the naming strategy to map keys,
// capping recursion depth, and breaking reference cycles. Cycles render as a
// placeholder string; shared non-cyclic containers are kept intact.
func (e *Encoder) sanitize(v any, depth int, seen map[uintptr]struct{}) any {
	if v == nil {
		return nil
	}
	if depth > e.maxDepth {
		return depthPlaceholder
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return cyclePlaceholder
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			out[e.fieldName(key)] = e.sanitize(iter.Value().Interface(), depth+1, seen)
		}
		return out

	case reflect.Slice:
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return cyclePlaceholder
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = e.sanitize(rv.Index(i).Interface(), depth+1, seen)
		}
		return out

	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = e.sanitize(rv.Index(i).Interface(), depth+1, seen)
		}
		return out

	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return cyclePlaceholder
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		return e.sanitize(rv.Elem().Interface(), depth, seen)

	default:
		return v
	}
}

// fieldName applies the configured naming strategy to one field name.
func (e *Encoder) fieldName(name string) string {
	if e.naming == NamingCamelCase {
		return camelCase(name)
	}
	return name
}

// camelCase lowercases the leading uppercase run of a name, keeping the last
// uppercase letter intact when it starts a new word ("DCRStream" becomes
// "dcrStream", "TimeGenerated" becomes "timeGenerated").
func camelCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
