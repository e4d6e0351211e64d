package output

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"memlock/internal/locker"
	"memlock/internal/smaps"
	"memlock/internal/watch"
)

// OTELFormatter formats lock results and mapping events as OpenTelemetry
// spans. Lock passes and watch sessions become root spans under the
// configured trace ID; each region outcome becomes a child span and each
// mapping change a span event.
type OTELFormatter struct {
	tracer   trace.Tracer
	traceID  trace.TraceID
	rootCtx  context.Context
	rootSpan trace.Span
}

// NewOTELFormatter creates a new OTELFormatter.
func NewOTELFormatter(tracer trace.Tracer, traceIDHex string) (*OTELFormatter, error) {
	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return nil, fmt.Errorf("invalid trace ID: %w", err)
	}

	return &OTELFormatter{
		tracer:  tracer,
		traceID: traceID,
	}, nil
}

// Begin opens the root span for a lock pass or watch session.
func (f *OTELFormatter) Begin(name string) {
	// Anchor the root span under the configured trace ID by acting as a
	// remote child of a synthetic parent.
	var parentID trace.SpanID
	copy(parentID[:], f.traceID[:8])

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    f.traceID,
		SpanID:     parentID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	ctx := trace.ContextWithSpanContext(context.Background(), parent)
	f.rootCtx, f.rootSpan = f.tracer.Start(ctx, name)
}

// End closes the root span.
func (f *OTELFormatter) End() {
	if f.rootSpan == nil {
		return
	}
	f.rootSpan.End()
	f.rootSpan = nil
	f.rootCtx = nil
}

// HandleLockResult emits a child span for one region outcome.
func (f *OTELFormatter) HandleLockResult(result *locker.Result) error {
	if f.rootSpan == nil {
		return fmt.Errorf("lock result received outside a pass")
	}

	m := &result.Mapping
	_, span := f.tracer.Start(f.rootCtx, spanName(m),
		trace.WithAttributes(mappingAttributes(m)...),
		trace.WithAttributes(
			attribute.Bool("memlock.onfault", result.OnFault),
			attribute.Bool("memlock.skipped", result.Skipped),
			attribute.Bool("memlock.verified", result.Verified),
		),
	)
	defer span.End()

	for _, issue := range result.Issues {
		span.AddEvent("issue", trace.WithAttributes(attribute.String("message", issue)))
	}

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	} else if !result.Skipped {
		span.SetStatus(codes.Ok, "")
	}
	return nil
}

// HandleMappingEvent emits a span event for one mapping change.
func (f *OTELFormatter) HandleMappingEvent(event *watch.Event) error {
	if f.rootSpan == nil {
		return fmt.Errorf("mapping event received outside a session")
	}

	attrs := append(mappingAttributes(&event.Mapping),
		attribute.String("memlock.event", event.TypeName()),
	)
	f.rootSpan.AddEvent("mapping."+event.TypeName(),
		trace.WithTimestamp(event.Time),
		trace.WithAttributes(attrs...),
	)
	return nil
}

func spanName(m *smaps.Mapping) string {
	if m.Path != "" {
		return "mlock " + m.Path
	}
	return fmt.Sprintf("mlock anon %x", m.Start)
}

func mappingAttributes(m *smaps.Mapping) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("memlock.region.start", fmt.Sprintf("%x", m.Start)),
		attribute.String("memlock.region.end", fmt.Sprintf("%x", m.End)),
		attribute.String("memlock.region.perms", m.Perms),
		attribute.String("memlock.region.path", m.Path),
		attribute.Int64("memlock.region.bytes", int64(m.Size())), //nolint:gosec // Mapping sizes fit int64
		attribute.Int64("memlock.region.rss_kb", int64(m.RssKB)),
		attribute.Int64("memlock.region.locked_kb", int64(m.LockedKB)),
	}
}
