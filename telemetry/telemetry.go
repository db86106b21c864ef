// Package telemetry holds the logging, tracing and metric hooks shared by the
// point-to-point layer, the plan selector and the engine.
package telemetry

import (
	"fmt"
	"strings"
)

// Logger provides printf-style debug logging.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
// *zap.SugaredLogger satisfies both Logger and StructuredLogger.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute is a key/value attached to spans and span events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans around collective activity.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records lifecycle, events and errors.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// Label keys used in metric attribute maps.
const (
	LabelEndpoint   = "endpoint"
	LabelCollective = "collective"
	LabelAlgorithm  = "algorithm"
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelReason     = "reason"
)

// MetricHook captures engine telemetry events.
type MetricHook interface {
	SendCompleted(attrs map[string]string)
	SendFailed(err error, attrs map[string]string)
	ReceiveCompleted(attrs map[string]string)
	ReceiveFailed(err error, attrs map[string]string)
	OpStarted(attrs map[string]string)
	OpCompleted(attrs map[string]string)
	OpFailed(err error, attrs map[string]string)
	PlanFallback(attrs map[string]string)
}

// Field is one key/value of a log line or span event.
type Field struct {
	Key   string
	Value any
}

// KV builds a Field.
func KV(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Hooks bundles the optional observers of one component. The zero value
// discards everything.
type Hooks struct {
	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

// Normalize fills StructuredLogger from Logger when the logger supports it.
func (h Hooks) Normalize() Hooks {
	if h.StructuredLogger == nil {
		if sl, ok := h.Logger.(StructuredLogger); ok {
			h.StructuredLogger = sl
		}
	}
	return h
}

// Log writes event with fields, preferring the structured logger.
func (h *Hooks) Log(component, event string, fields ...Field) {
	if h == nil {
		return
	}
	if h.StructuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+2)
		kv = append(kv, "event", event)
		for _, field := range fields {
			if field.Key == "" {
				continue
			}
			kv = append(kv, field.Key, field.Value)
		}
		h.StructuredLogger.Debugw(component, kv...)
		return
	}
	if h.Logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.Key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.Value))
	}
	h.Logger.Debugf("%s %s", component, b.String())
}

// StartSpan starts a span when a tracer is configured.
func (h *Hooks) StartSpan(name string, fields ...Field) Span {
	if h == nil || h.Tracer == nil {
		return nil
	}
	return h.Tracer.StartSpan(name, Attributes(fields...)...)
}

// SpanEvent adds an event to span if it is non-nil.
func SpanEvent(span Span, name string, fields ...Field) {
	if span == nil {
		return
	}
	span.AddEvent(name, Attributes(fields...)...)
}

// SpanError records err on span if both are non-nil.
func SpanError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

// SpanEnd ends span if it is non-nil.
func SpanEnd(span Span, err error) {
	if span == nil {
		return
	}
	span.End(err)
}

// Attributes converts fields into trace attributes.
func Attributes(fields ...Field) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.Key, Value: field.Value})
	}
	return attrs
}

// Attrs merges base labels with fields into a metric attribute map.
func Attrs(base map[string]string, fields ...Field) map[string]string {
	attrs := make(map[string]string, len(base)+len(fields))
	for k, v := range base {
		attrs[k] = v
	}
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		attrs[field.Key] = fmt.Sprint(field.Value)
	}
	return attrs
}
