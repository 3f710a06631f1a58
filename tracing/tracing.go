// Package tracing records task executions as traces of spans. Each task
// invocation runs under its own trace; the engine retrieves recorded trace
// trees by id after execution to score metrics that need execution metadata
// such as token usage and latency.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey int

const (
	traceContextKey contextKey = iota
	spanContextKey
)

// Usage holds token accounting reported for a span.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorInfo captures a failure observed during a span.
type ErrorInfo struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Span is one recorded unit of work. A span is open until End is called;
// End is safe to call more than once and the first call wins.
type Span struct {
	ID       string
	TraceID  string
	ParentID string
	Name     string

	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
	input     map[string]any
	output    map[string]any
	usage     Usage
	metadata  map[string]any
	errorInfo *ErrorInfo
}

func (s *Span) StartTime() time.Time { return s.startTime }

func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// Duration returns the elapsed time of the span, or the time elapsed so far
// if the span has not ended.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// End closes the span. Idempotent.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		s.endTime = time.Now()
	}
}

func (s *Span) SetInput(input map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = input
}

func (s *Span) SetOutput(output map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = output
}

func (s *Span) SetUsage(usage Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = usage
}

func (s *Span) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
}

// RecordError attaches error information to the span without ending it.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorInfo = &ErrorInfo{Message: err.Error(), Timestamp: time.Now()}
}

func (s *Span) Input() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Span) Output() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *Span) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Span) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

func (s *Span) ErrorInfo() *ErrorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorInfo
}

// Trace is an ordered collection of spans recorded under one trace id.
// Spans are kept in start order, so the first span is always the one
// representing the task invocation itself.
type Trace struct {
	ID string

	mu    sync.Mutex
	spans []*Span
}

func (t *Trace) addSpan(s *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, s)
}

// Spans returns the recorded spans in start order.
func (t *Trace) Spans() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Span{}, t.spans...)
}

// FirstSpan returns the earliest recorded span, or nil when the trace is
// empty.
func (t *Trace) FirstSpan() *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) == 0 {
		return nil
	}
	return t.spans[0]
}

// Recorder creates traces and keeps them retrievable by id.
type Recorder struct {
	mu     sync.Mutex
	traces map[string]*Trace
}

func NewRecorder() *Recorder {
	return &Recorder{
		traces: make(map[string]*Trace),
	}
}

// StartTrace begins a new trace and returns a context carrying it.
func (r *Recorder) StartTrace(ctx context.Context) (context.Context, *Trace) {
	trace := &Trace{ID: uuid.NewString()}
	r.mu.Lock()
	r.traces[trace.ID] = trace
	r.mu.Unlock()
	return context.WithValue(ctx, traceContextKey, trace), trace
}

// StartSpan opens a span under the trace carried by ctx and returns a
// context carrying the span as the current parent. Callers must End the
// returned span on every exit path.
func (r *Recorder) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	trace, ok := ctx.Value(traceContextKey).(*Trace)
	if !ok {
		ctx, trace = r.StartTrace(ctx)
	}

	span := &Span{
		ID:        uuid.NewString(),
		TraceID:   trace.ID,
		Name:      name,
		startTime: time.Now(),
	}
	if parent, ok := ctx.Value(spanContextKey).(*Span); ok {
		span.ParentID = parent.ID
	}
	trace.addSpan(span)
	return context.WithValue(ctx, spanContextKey, span), span
}

// SpanFromContext returns the current span, if any. Task callables use this
// to report token usage on the span that wraps their invocation.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	span, ok := ctx.Value(spanContextKey).(*Span)
	return span, ok
}

// Trace returns the recorded trace for id.
func (r *Recorder) Trace(id string) (*Trace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trace, ok := r.traces[id]
	return trace, ok
}

// Discard removes a recorded trace. The engine drops traces it no longer
// needs so long evaluations do not accumulate every span in memory.
func (r *Recorder) Discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.traces, id)
}
