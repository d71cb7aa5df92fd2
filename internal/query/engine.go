// Package query is the read path over recorded traces. It never writes;
// aggregation happens in SQL and the engine shapes results for dashboards
// and the CLI.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/draftforge/tracebook/internal/trace"
)

// ReadStore is the subset of the trace store the engine reads through.
type ReadStore interface {
	GetTrace(ctx context.Context, id string) (*trace.Trace, error)
	QueryTraces(ctx context.Context, filter trace.TraceFilter) ([]*trace.Trace, error)
	GetEvent(ctx context.Context, id string) (*trace.Event, error)
	EventsByTrace(ctx context.Context, traceID string) ([]*trace.Event, error)
	SearchEvents(ctx context.Context, query string, limit int) ([]*trace.Event, error)
	CostSummary(ctx context.Context, filter trace.CostFilter) (*trace.CostSummary, error)
	CostBuckets(ctx context.Context, filter trace.CostFilter, groupBy string) ([]trace.CostBucket, error)
	PromptUsage(ctx context.Context, key string) ([]trace.PromptUsage, error)
	ComparePromptVersions(ctx context.Context, key string) ([]trace.PromptVersionStats, error)
	PromptQualityByID(ctx context.Context, promptID string) (*trace.PromptQualityStats, error)
	PromptQualityByKey(ctx context.Context, key string) (*trace.PromptQualityStats, error)
}

type Engine struct {
	store ReadStore
}

func NewEngine(store ReadStore) *Engine {
	return &Engine{store: store}
}

// ListTraces returns traces newest first, filtered and capped.
func (e *Engine) ListTraces(ctx context.Context, filter trace.TraceFilter) ([]*trace.Trace, error) {
	return e.store.QueryTraces(ctx, filter)
}

// TraceWithEvents pairs one trace with its flat event list in creation
// order.
type TraceWithEvents struct {
	Trace  *trace.Trace
	Events []*trace.Event
}

func (e *Engine) TraceWithEvents(ctx context.Context, traceID string) (*TraceWithEvents, error) {
	tr, err := e.store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.EventsByTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return &TraceWithEvents{Trace: tr, Events: events}, nil
}

func (e *Engine) EventsByTrace(ctx context.Context, traceID string) ([]*trace.Event, error) {
	return e.store.EventsByTrace(ctx, traceID)
}

func (e *Engine) SearchEvents(ctx context.Context, query string, limit int) ([]*trace.Event, error) {
	return e.store.SearchEvents(ctx, query, limit)
}

// EventNode is one event with its resolved children, each level in
// creation order.
type EventNode struct {
	Event    *trace.Event
	Children []*EventNode
}

// EventTree resolves the subtree rooted at one event. The whole trace is
// fetched in a single store call and the tree is assembled in memory, so
// deep trees cost one query, not one per level. Returns
// trace.ErrNotFound when the root event does not exist.
func (e *Engine) EventTree(ctx context.Context, eventID string) (*EventNode, error) {
	root, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	events, err := e.store.EventsByTrace(ctx, root.TraceID)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]*trace.Event, len(events))
	for _, ev := range events {
		if ev.ParentID == "" {
			continue
		}
		children[ev.ParentID] = append(children[ev.ParentID], ev)
	}
	for _, siblings := range children {
		sort.SliceStable(siblings, func(i, j int) bool {
			if siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
				return siblings[i].ID < siblings[j].ID
			}
			return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
		})
	}

	// seen guards against malformed parent links producing a cycle.
	seen := make(map[string]bool, len(events))
	return buildNode(root, children, seen), nil
}

func buildNode(ev *trace.Event, children map[string][]*trace.Event, seen map[string]bool) *EventNode {
	if seen[ev.ID] {
		return nil
	}
	seen[ev.ID] = true

	node := &EventNode{Event: ev}
	for _, child := range children[ev.ID] {
		if childNode := buildNode(child, children, seen); childNode != nil {
			node.Children = append(node.Children, childNode)
		}
	}
	return node
}

// CostReport is the summary plus only the aggregations the caller asked
// for, keyed by grouping name.
type CostReport struct {
	Summary      *trace.CostSummary
	Aggregations map[string][]trace.CostBucket
}

// CostReport aggregates the filtered event set. groupBys may name any of
// trace.GroupByDay, GroupByModel, GroupByTenant, GroupByUser; buckets are
// computed only for the requested groupings.
func (e *Engine) CostReport(ctx context.Context, filter trace.CostFilter, groupBys ...string) (*CostReport, error) {
	summary, err := e.store.CostSummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &CostReport{Summary: summary}
	if len(groupBys) == 0 {
		return report, nil
	}

	report.Aggregations = make(map[string][]trace.CostBucket, len(groupBys))
	for _, groupBy := range groupBys {
		if _, done := report.Aggregations[groupBy]; done {
			continue
		}
		buckets, err := e.store.CostBuckets(ctx, filter, groupBy)
		if err != nil {
			return nil, fmt.Errorf("aggregate by %q: %w", groupBy, err)
		}
		report.Aggregations[groupBy] = buckets
	}
	return report, nil
}

// PromptUsage lists every version of a prompt key with its usage counts,
// including versions no event references.
func (e *Engine) PromptUsage(ctx context.Context, key string) ([]trace.PromptUsage, error) {
	return e.store.PromptUsage(ctx, key)
}

// ComparePromptVersions returns per-version cost/latency/quality stats
// over llm events, for judging whether a prompt edit earned its keep.
func (e *Engine) ComparePromptVersions(ctx context.Context, key string) ([]trace.PromptVersionStats, error) {
	return e.store.ComparePromptVersions(ctx, key)
}

// PromptQualityStats aggregates review scores for one prompt version when
// promptID is set, otherwise for every version of key.
func (e *Engine) PromptQualityStats(ctx context.Context, promptID, key string) (*trace.PromptQualityStats, error) {
	switch {
	case promptID != "":
		return e.store.PromptQualityByID(ctx, promptID)
	case key != "":
		return e.store.PromptQualityByKey(ctx, key)
	default:
		return nil, fmt.Errorf("prompt quality stats require a prompt id or key")
	}
}
