// Package tracelog is the write path of the tracing subsystem. Pipeline
// phases and the LLM client log through it; it creates traces, records
// llm and step events, prices model calls, and enforces the parent-child
// forest invariant at write time.
//
// Ambient scope is carried by an explicit Run value instead of package
// globals, so concurrent pipeline runs in one process stay isolated.
package tracelog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/tracebook/internal/pricing"
	"github.com/draftforge/tracebook/internal/trace"
)

// EventWriter is the subset of the trace store the logger writes through.
type EventWriter interface {
	InsertTrace(ctx context.Context, t *trace.Trace) error
	InsertEvent(ctx context.Context, e *trace.Event) error
	UpdateEventQuality(ctx context.Context, id string, score *float64, label, metadata string) error
}

// WriteMetrics receives write-path counter updates. The observability
// Runtime implements it; a nil value disables metrics.
type WriteMetrics interface {
	RecordEventWrite(ctx context.Context, eventType string)
	RecordWriteFailure(ctx context.Context, operation, errorClass string)
}

type Options struct {
	// Enabled gates persistence. When false every write hands back a
	// fresh id and touches nothing, so call sites need no conditionals.
	Enabled bool
	Logger  *slog.Logger
	Metrics WriteMetrics
}

type Logger struct {
	store   EventWriter
	calc    *pricing.Calculator
	enabled bool
	log     *slog.Logger
	metrics WriteMetrics
}

// New builds a Logger. A nil store behaves like Enabled=false.
func New(store EventWriter, calc *pricing.Calculator, opts Options) *Logger {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		store:   store,
		calc:    calc,
		enabled: opts.Enabled && store != nil,
		log:     log,
		metrics: opts.Metrics,
	}
}

func (l *Logger) recordWrite(ctx context.Context, eventType string) {
	if l.metrics != nil {
		l.metrics.RecordEventWrite(ctx, eventType)
	}
}

func (l *Logger) recordFailure(ctx context.Context, operation string, err error) {
	if l.metrics != nil {
		l.metrics.RecordWriteFailure(ctx, operation, trace.ClassifyWriteError(err))
	}
}

// Enabled reports whether writes actually persist.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// TraceOptions carries the optional attributes of a new trace.
type TraceOptions struct {
	UserID   string
	TenantID string
	Tags     []string
	Metadata map[string]any
	Scope    RunScope
}

// RunScope identifies the content entities a run operates on. The ids are
// folded into trace and event metadata so downstream queries can slice by
// article, post or slide without schema changes.
type RunScope struct {
	ArticleID string
	PostID    string
	SlideID   string
}

func (s RunScope) metadata() map[string]any {
	out := make(map[string]any, 3)
	if s.ArticleID != "" {
		out["article_id"] = s.ArticleID
	}
	if s.PostID != "" {
		out["post_id"] = s.PostID
	}
	if s.SlideID != "" {
		out["slide_id"] = s.SlideID
	}
	return out
}

// CreateTrace persists a new trace and returns its id. When the logger is
// disabled it still returns a usable id so callers can thread it through
// a run whose events all become no-ops.
func (l *Logger) CreateTrace(ctx context.Context, name string, opts TraceOptions) (string, error) {
	id := uuid.NewString()
	if !l.Enabled() {
		l.log.DebugContext(ctx, "trace logging disabled, returning detached trace id", "trace_id", id, "name", name)
		return id, nil
	}

	metadata, err := encodeMetadata(mergeMetadata(opts.Scope.metadata(), opts.Metadata))
	if err != nil {
		return "", fmt.Errorf("encode trace metadata: %w", err)
	}

	row := &trace.Trace{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Name:      name,
		UserID:    opts.UserID,
		TenantID:  opts.TenantID,
		Tags:      strings.Join(opts.Tags, ","),
		Metadata:  metadata,
	}
	if err := l.store.InsertTrace(ctx, row); err != nil {
		l.recordFailure(ctx, "insert_trace", err)
		return "", fmt.Errorf("create trace %q: %w", name, err)
	}
	l.log.InfoContext(ctx, "trace created", "trace_id", id, "name", name, "tenant_id", opts.TenantID)
	return id, nil
}

// Run binds a trace id and content scope so phase code does not thread
// them through every call. One Run per goroutine; Runs share the Logger.
type Run struct {
	TraceID string

	logger *Logger
	scope  RunScope
}

// StartRun creates a trace and returns a session bound to it.
func (l *Logger) StartRun(ctx context.Context, name string, opts TraceOptions) (*Run, error) {
	id, err := l.CreateTrace(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return &Run{TraceID: id, logger: l, scope: opts.Scope}, nil
}

// WithScope returns a copy of the run scoped to different content ids,
// for phases that fan out over slides or posts within one trace.
func (r *Run) WithScope(scope RunScope) *Run {
	clone := *r
	clone.scope = scope
	return &clone
}

func (r *Run) LogLLM(ctx context.Context, ev LLMEvent) (string, error) {
	ev.TraceID = r.TraceID
	ev.Metadata = mergeMetadata(r.scope.metadata(), ev.Metadata)
	return r.logger.LogLLMEvent(ctx, ev)
}

func (r *Run) LogStep(ctx context.Context, ev StepEvent) (string, error) {
	ev.TraceID = r.TraceID
	ev.Metadata = mergeMetadata(r.scope.metadata(), ev.Metadata)
	return r.logger.LogStepEvent(ctx, ev)
}

func (r *Run) LogCall(ctx context.Context, rec CallRecord) (string, error) {
	rec.TraceID = r.TraceID
	rec.Metadata = mergeMetadata(r.scope.metadata(), rec.Metadata)
	return r.logger.LogCall(ctx, rec)
}

// SetEventQuality attaches a review score to an existing event. This is
// the only mutation allowed after an event is written.
func (l *Logger) SetEventQuality(ctx context.Context, eventID string, score *float64, label string, metadata map[string]any) error {
	if !l.Enabled() {
		return nil
	}
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return fmt.Errorf("encode quality metadata: %w", err)
	}
	if err := l.store.UpdateEventQuality(ctx, eventID, score, label, encoded); err != nil {
		return fmt.Errorf("set quality for event %q: %w", eventID, err)
	}
	return nil
}

// mergeMetadata overlays extra on top of base without mutating either.
func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 {
		return extra
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// encodeObject serializes a structured payload for the *_json columns.
// Strings pass through untouched when they already hold JSON.
func encodeObject(obj any) (string, error) {
	if obj == nil {
		return "", nil
	}
	if s, ok := obj.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
