package tracing

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
)

// Propagation headers
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// TraceID identifies a request flow across spans
type TraceID string

// SpanID identifies one operation
type SpanID string

// Span is one traced operation: an HTTP request or a gateway message.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	attrs []zap.Field
}

// SetAttr attaches a string attribute to the span.
func (s *Span) SetAttr(key, value string) {
	s.attrs = append(s.attrs, zap.String(key, value))
}

// Fail records err on the span.
func (s *Span) Fail(err error) {
	s.Err = err
}

// Config configures a Tracer.
type Config struct {
	Service string
	// SlowThreshold logs successful spans at least this long at info
	// instead of debug. Zero disables the promotion.
	SlowThreshold time.Duration
	// Buffer is the number of finished spans queued for the log writer.
	Buffer int
}

// Tracer hands finished spans to a background writer that logs them.
type Tracer struct {
	cfg     Config
	log     *logging.Logger
	queue   chan *Span
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// New creates a tracer and starts its writer.
func New(cfg Config, log *logging.Logger) *Tracer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if log == nil {
		log = logging.NewNop()
	}
	t := &Tracer{
		cfg:   cfg,
		log:   log.Named("trace"),
		queue: make(chan *Span, cfg.Buffer),
		done:  make(chan struct{}),
	}
	go t.write()
	return t
}

// Start opens a span as a child of the span carried by ctx, or as the root
// of a new trace.
func (t *Tracer) Start(ctx context.Context, name string) (*Span, context.Context) {
	traceID, parentID := FromContext(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.NewRequestID()),
		ParentID: parentID,
		Name:     name,
		Start:    time.Now(),
	}
	return span, ContextWith(ctx, span.TraceID, span.SpanID)
}

// End closes span and queues it for logging. When the queue is full the
// span is counted as dropped. Spans ended after Close are discarded.
func (t *Tracer) End(span *Span) {
	span.Duration = time.Since(span.Start)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- span:
	default:
		t.dropped.Add(1)
	}
}

// Trace runs fn inside a span and ends it when fn returns.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...zap.Field) error {
	span, ctx := t.Start(ctx, name)
	span.attrs = append(span.attrs, attrs...)
	err := fn(ctx)
	if err != nil {
		span.Fail(err)
	}
	t.End(span)
	return err
}

// Dropped returns how many spans were lost to a full queue.
func (t *Tracer) Dropped() uint64 {
	return t.dropped.Load()
}

// Close flushes queued spans and stops the writer. It is safe to call twice.
func (t *Tracer) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) write() {
	defer close(t.done)
	for span := range t.queue {
		t.emit(span)
	}
	if n := t.dropped.Load(); n > 0 {
		t.log.Warn("spans dropped", zap.Uint64("count", n))
	}
}

func (t *Tracer) emit(span *Span) {
	fields := make([]zap.Field, 0, 6+len(span.attrs))
	fields = append(fields,
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	)
	if t.cfg.Service != "" {
		fields = append(fields, zap.String("service", t.cfg.Service))
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.Status != 0 {
		fields = append(fields, zap.Int("status", span.Status))
	}
	fields = append(fields, span.attrs...)

	switch {
	case span.Err != nil:
		t.log.Warn("span failed", append(fields, zap.Error(span.Err))...)
	case t.cfg.SlowThreshold > 0 && span.Duration >= t.cfg.SlowThreshold:
		t.log.Info("slow span", fields...)
	default:
		t.log.Debug("span", fields...)
	}
}

type spanContext struct {
	trace TraceID
	span  SpanID
}

type contextKey struct{}

// ContextWith returns ctx carrying a trace and current span. Empty values
// keep whatever ctx already carries.
func ContextWith(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	sc, _ := ctx.Value(contextKey{}).(spanContext)
	if traceID != "" {
		sc.trace = traceID
	}
	if spanID != "" {
		sc.span = spanID
	}
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the trace and span carried by ctx.
func FromContext(ctx context.Context) (TraceID, SpanID) {
	sc, _ := ctx.Value(contextKey{}).(spanContext)
	return sc.trace, sc.span
}

// FromHeader reads propagated trace context.
func FromHeader(h http.Header) (TraceID, SpanID) {
	return TraceID(h.Get(HeaderTraceID)), SpanID(h.Get(HeaderSpanID))
}

// SetHeader writes span's trace context for the next hop.
func SetHeader(h http.Header, span *Span) {
	h.Set(HeaderTraceID, string(span.TraceID))
	h.Set(HeaderSpanID, string(span.SpanID))
}
