package trace

import (
	"context"
	"time"
)

// Store is the persistence boundary for traces, events, prompt versions
// and pricing overrides. One implementation exists per backing engine and
// is selected at startup by configuration; no caller branches on engine
// type. Every write commits exactly once and releases its connection on
// all exit paths.
type Store interface {
	InsertTrace(ctx context.Context, t *Trace) error
	GetTrace(ctx context.Context, id string) (*Trace, error)
	QueryTraces(ctx context.Context, filter TraceFilter) ([]*Trace, error)

	InsertEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	EventsByTrace(ctx context.Context, traceID string) ([]*Event, error)
	UpdateEventQuality(ctx context.Context, id string, score *float64, label, metadata string) error
	SearchEvents(ctx context.Context, query string, limit int) ([]*Event, error)

	CostSummary(ctx context.Context, filter CostFilter) (*CostSummary, error)
	CostBuckets(ctx context.Context, filter CostFilter, groupBy string) ([]CostBucket, error)

	PromptVersionsByHash(ctx context.Context, key, hash string) ([]*PromptVersion, error)
	InsertPromptVersion(ctx context.Context, p *PromptVersion) (*PromptVersion, error)
	GetPromptVersion(ctx context.Context, key, version string) (*PromptVersion, error)
	LatestPromptVersion(ctx context.Context, key string) (*PromptVersion, error)
	ListPromptVersions(ctx context.Context, key string) ([]*PromptVersion, error)
	PromptUsage(ctx context.Context, key string) ([]PromptUsage, error)
	ComparePromptVersions(ctx context.Context, key string) ([]PromptVersionStats, error)
	PromptQualityByID(ctx context.Context, promptID string) (*PromptQualityStats, error)
	PromptQualityByKey(ctx context.Context, key string) (*PromptQualityStats, error)

	GetModelPricing(ctx context.Context, model string) (*PricingEntry, error)
	UpsertModelPricing(ctx context.Context, entry PricingEntry) error

	Close() error
}

// TraceFilter narrows QueryTraces. Zero values mean "no constraint".
type TraceFilter struct {
	UserID        string
	TenantID      string
	NameContains  string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// CostFilter narrows cost aggregation over events. Tenant and user
// constraints join through the owning trace.
type CostFilter struct {
	TraceID  string
	UserID   string
	TenantID string
	Model    string
	Type     string
	From     time.Time
	To       time.Time
}

// Cost aggregation group keys.
const (
	GroupByDay    = "day"
	GroupByModel  = "model"
	GroupByTenant = "tenant"
	GroupByUser   = "user"
)

// CostSummary holds overall counts, sums and averages over the filtered
// event set. Averages are taken over events that carry the value.
type CostSummary struct {
	TotalEvents       int64
	TotalTokensInput  int64
	TotalTokensOutput int64
	TotalTokens       int64
	TotalCost         float64
	AvgCostPerEvent   float64
	AvgDurationMS     float64
}

// CostBucket is one row of a grouped cost aggregation. Key is the bucket
// label: a YYYY-MM-DD date for day grouping, otherwise the group value.
type CostBucket struct {
	Key         string
	EventCount  int64
	TotalTokens int64
	TotalCost   float64
}

// PromptUsage pairs one prompt version with its referencing-event rollup.
// Versions with zero usage are included with zero counts.
type PromptUsage struct {
	PromptID   string
	PromptKey  string
	Version    string
	CreatedAt  time.Time
	EventCount int64
	TotalCost  float64
	LastUsedAt *time.Time
}

// PromptVersionStats aggregates LLM events per prompt version for
// side-by-side version comparison.
type PromptVersionStats struct {
	PromptID      string
	Version       string
	EventCount    int64
	TokensInput   int64
	TokensOutput  int64
	TotalCost     float64
	AvgCost       float64
	AvgDurationMS float64
	AvgQuality    *float64
	FirstUsedAt   *time.Time
	LastUsedAt    *time.Time
}

// Quality score thresholds used for the high/low counts in
// PromptQualityStats. Scores are normalized to [0, 1].
const (
	HighQualityThreshold = 0.8
	LowQualityThreshold  = 0.5
)

// PromptQualityStats aggregates quality annotations over the events of
// one prompt version, or over all versions of a key.
type PromptQualityStats struct {
	ScoredEvents int64
	AvgQuality   *float64
	MinQuality   *float64
	MaxQuality   *float64
	HighCount    int64
	LowCount     int64
}
