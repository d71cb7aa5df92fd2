package trace

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tracebook.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close sqlite store: %v", err)
		}
	})
	return store
}

func i64(v int64) *int64       { return &v }
func f64(v float64) *float64   { return &v }
func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRetrySQLiteBusyRetriesTransientContention(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retrySQLiteBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retrySQLiteBusy() error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("retry attempts=%d, want 3", attempts)
	}
}

func TestRetrySQLiteBusyHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retrySQLiteBusy(ctx, func() error {
		attempts++
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("retrySQLiteBusy() error=%v, want %v", err, context.Canceled)
	}
	if attempts != 1 {
		t.Fatalf("retry attempts=%d, want 1", attempts)
	}
}

func TestSQLiteStoreConfiguresWAL(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)

	var mode string
	if err := store.db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
		t.Fatalf("query journal_mode pragma: %v", err)
	}
	if strings.ToLower(mode) != "wal" {
		t.Fatalf("journal_mode=%q, want wal", mode)
	}
}

func TestSQLiteTraceRoundTrip(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	row := &Trace{
		ID:        "trace-1",
		CreatedAt: created,
		Name:      "weekly-newsletter",
		UserID:    "user-7",
		TenantID:  "tenant-3",
		Tags:      "newsletter,batch",
		Metadata:  `{"campaign":"spring"}`,
	}
	if err := store.InsertTrace(ctx, row); err != nil {
		t.Fatalf("InsertTrace() error: %v", err)
	}

	got, err := store.GetTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetTrace() error: %v", err)
	}
	if got.Name != "weekly-newsletter" || got.UserID != "user-7" || got.TenantID != "tenant-3" {
		t.Fatalf("trace fields mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at=%v, want %v", got.CreatedAt, created)
	}
	if got.TokensTotal != nil || got.CostTotal != nil {
		t.Fatalf("unset totals should round-trip as nil: %+v", got)
	}

	if _, err := store.GetTrace(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTrace(missing) error=%v, want ErrNotFound", err)
	}
}

func TestSQLiteQueryTracesFiltersAndOrder(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	rows := []*Trace{
		{ID: "t-a", CreatedAt: base.Add(1 * time.Minute), Name: "draft article", UserID: "u1", TenantID: "acme"},
		{ID: "t-b", CreatedAt: base.Add(2 * time.Minute), Name: "draft slides", UserID: "u2", TenantID: "acme"},
		{ID: "t-c", CreatedAt: base.Add(3 * time.Minute), Name: "publish post", UserID: "u1", TenantID: "globex"},
	}
	for _, row := range rows {
		if err := store.InsertTrace(ctx, row); err != nil {
			t.Fatalf("InsertTrace(%s) error: %v", row.ID, err)
		}
	}

	got, err := store.QueryTraces(ctx, TraceFilter{Limit: 10})
	if err != nil {
		t.Fatalf("QueryTraces() error: %v", err)
	}
	if len(got) != 3 || got[0].ID != "t-c" || got[2].ID != "t-a" {
		t.Fatalf("unexpected order: %+v", got)
	}

	got, err = store.QueryTraces(ctx, TraceFilter{UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("QueryTraces(user) error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("user filter returned %d rows, want 2", len(got))
	}

	got, err = store.QueryTraces(ctx, TraceFilter{NameContains: "draft", Limit: 10})
	if err != nil {
		t.Fatalf("QueryTraces(name) error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("name filter returned %d rows, want 2", len(got))
	}

	got, err = store.QueryTraces(ctx, TraceFilter{CreatedAfter: base.Add(90 * time.Second), Limit: 10})
	if err != nil {
		t.Fatalf("QueryTraces(after) error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("created_after filter returned %d rows, want 2", len(got))
	}

	got, err = store.QueryTraces(ctx, TraceFilter{Limit: 1})
	if err != nil {
		t.Fatalf("QueryTraces(limit) error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t-c" {
		t.Fatalf("limit query returned %+v", got)
	}
}

func TestSQLiteEventRoundTripAndNulls(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.InsertTrace(ctx, &Trace{ID: "t1", Name: "run"}); err != nil {
		t.Fatalf("InsertTrace() error: %v", err)
	}

	ev := &Event{
		ID:           "e1",
		TraceID:      "t1",
		CreatedAt:    time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
		Type:         EventTypeLLM,
		Name:         "outline.generate",
		Model:        "gpt-4o-mini",
		Role:         "assistant",
		InputText:    "Write an outline about beekeeping",
		OutputText:   "1. Hive basics",
		DurationMS:   i64(840),
		TokensInput:  i64(1000),
		TokensOutput: i64(500),
		TokensTotal:  i64(1500),
		CostInput:    f64(0.00015),
		CostOutput:   f64(0.0003),
		CostTotal:    f64(0.00045),
		Metadata:     `{"article_id":"a-9"}`,
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent() error: %v", err)
	}

	got, err := store.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEvent() error: %v", err)
	}
	if got.TraceID != "t1" || got.Type != EventTypeLLM || got.Model != "gpt-4o-mini" {
		t.Fatalf("event fields mismatch: %+v", got)
	}
	if got.TokensInput == nil || *got.TokensInput != 1000 {
		t.Fatalf("tokens_input=%v, want 1000", got.TokensInput)
	}
	if got.CostTotal == nil || !almostEqual(*got.CostTotal, 0.00045) {
		t.Fatalf("cost_total=%v, want 0.00045", got.CostTotal)
	}
	if got.ParentID != "" || got.PromptID != "" {
		t.Fatalf("unset links should be empty: %+v", got)
	}

	// A failed-call event with no tokens must keep NULL tokens and cost.
	bare := &Event{ID: "e2", TraceID: "t1", Type: EventTypeLLM, Name: "outline.retry", Error: "rate limited"}
	if err := store.InsertEvent(ctx, bare); err != nil {
		t.Fatalf("InsertEvent(bare) error: %v", err)
	}
	got, err = store.GetEvent(ctx, "e2")
	if err != nil {
		t.Fatalf("GetEvent(bare) error: %v", err)
	}
	if got.TokensInput != nil || got.TokensOutput != nil || got.CostTotal != nil || got.DurationMS != nil {
		t.Fatalf("bare event should have nil optionals: %+v", got)
	}
	if got.Error != "rate limited" {
		t.Fatalf("error=%q, want rate limited", got.Error)
	}
}

func TestSQLiteEventParentInvariant(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	for _, tr := range []*Trace{{ID: "t1", Name: "a"}, {ID: "t2", Name: "b"}} {
		if err := store.InsertTrace(ctx, tr); err != nil {
			t.Fatalf("InsertTrace(%s) error: %v", tr.ID, err)
		}
	}
	if err := store.InsertEvent(ctx, &Event{ID: "root", TraceID: "t1", Type: EventTypeStep, Name: "root"}); err != nil {
		t.Fatalf("InsertEvent(root) error: %v", err)
	}

	if err := store.InsertEvent(ctx, &Event{ID: "child", TraceID: "t1", ParentID: "root", Type: EventTypeStep, Name: "child"}); err != nil {
		t.Fatalf("InsertEvent(child) error: %v", err)
	}

	err := store.InsertEvent(ctx, &Event{ID: "stray", TraceID: "t2", ParentID: "root", Type: EventTypeStep, Name: "stray"})
	if !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("cross-trace parent error=%v, want ErrInvalidParent", err)
	}

	err = store.InsertEvent(ctx, &Event{ID: "orphan", TraceID: "t1", ParentID: "ghost", Type: EventTypeStep, Name: "orphan"})
	if !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("missing parent error=%v, want ErrInvalidParent", err)
	}
}

func TestSQLiteUpdateEventQuality(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.InsertTrace(ctx, &Trace{ID: "t1", Name: "run"}); err != nil {
		t.Fatalf("InsertTrace() error: %v", err)
	}
	if err := store.InsertEvent(ctx, &Event{ID: "e1", TraceID: "t1", Type: EventTypeLLM, Name: "gen"}); err != nil {
		t.Fatalf("InsertEvent() error: %v", err)
	}

	if err := store.UpdateEventQuality(ctx, "e1", f64(0.92), "excellent", `{"reviewer":"amr"}`); err != nil {
		t.Fatalf("UpdateEventQuality() error: %v", err)
	}
	got, err := store.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEvent() error: %v", err)
	}
	if got.QualityScore == nil || *got.QualityScore != 0.92 || got.QualityLabel != "excellent" {
		t.Fatalf("quality fields mismatch: %+v", got)
	}

	if err := store.UpdateEventQuality(ctx, "missing", f64(0.5), "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateEventQuality(missing) error=%v, want ErrNotFound", err)
	}
}

func TestSQLiteSearchEvents(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.InsertTrace(ctx, &Trace{ID: "t1", Name: "run"}); err != nil {
		t.Fatalf("InsertTrace() error: %v", err)
	}
	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	events := []*Event{
		{ID: "e1", TraceID: "t1", CreatedAt: base.Add(1 * time.Second), Type: EventTypeStep, Name: "a", InputText: "validate beekeeping brief"},
		{ID: "e2", TraceID: "t1", CreatedAt: base.Add(2 * time.Second), Type: EventTypeLLM, Name: "b", OutputText: "beekeeping is seasonal"},
		{ID: "e3", TraceID: "t1", CreatedAt: base.Add(3 * time.Second), Type: EventTypeStep, Name: "c", InputText: "100% unrelated"},
	}
	for _, ev := range events {
		if err := store.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("InsertEvent(%s) error: %v", ev.ID, err)
		}
	}

	got, err := store.SearchEvents(ctx, "beekeeping", 10)
	if err != nil {
		t.Fatalf("SearchEvents() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e2" || got[1].ID != "e1" {
		t.Fatalf("search result mismatch: %+v", got)
	}

	// LIKE wildcards in the query are matched literally.
	got, err = store.SearchEvents(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("SearchEvents(percent) error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e3" {
		t.Fatalf("wildcard escape mismatch: %+v", got)
	}
}

func seedCostFixture(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	traces := []*Trace{
		{ID: "t1", CreatedAt: base, Name: "run-1", UserID: "u1", TenantID: "acme"},
		{ID: "t2", CreatedAt: base, Name: "run-2", UserID: "u2", TenantID: "globex"},
	}
	for _, tr := range traces {
		if err := store.InsertTrace(ctx, tr); err != nil {
			t.Fatalf("InsertTrace(%s) error: %v", tr.ID, err)
		}
	}
	events := []*Event{
		{ID: "e1", TraceID: "t1", CreatedAt: base.Add(1 * time.Minute), Type: EventTypeLLM, Name: "gen", Model: "gpt-4o-mini",
			TokensInput: i64(1000), TokensOutput: i64(500), TokensTotal: i64(1500), CostTotal: f64(0.45), DurationMS: i64(800)},
		{ID: "e2", TraceID: "t1", CreatedAt: base.Add(2 * time.Minute), Type: EventTypeStep, Name: "validate"},
		{ID: "e3", TraceID: "t2", CreatedAt: base.Add(24 * time.Hour), Type: EventTypeLLM, Name: "gen", Model: "gpt-4o",
			TokensInput: i64(200), TokensOutput: i64(100), TokensTotal: i64(300), CostTotal: f64(0.05), DurationMS: i64(400)},
	}
	for _, ev := range events {
		if err := store.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("InsertEvent(%s) error: %v", ev.ID, err)
		}
	}
}

func TestSQLiteCostSummaryAndBuckets(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()
	seedCostFixture(t, store)

	summary, err := store.CostSummary(ctx, CostFilter{})
	if err != nil {
		t.Fatalf("CostSummary() error: %v", err)
	}
	if summary.TotalEvents != 3 {
		t.Fatalf("total_events=%d, want 3", summary.TotalEvents)
	}
	if summary.TotalTokens != 1800 {
		t.Fatalf("total_tokens=%d, want 1800", summary.TotalTokens)
	}
	if !almostEqual(summary.TotalCost, 0.5) {
		t.Fatalf("total_cost=%v, want 0.5", summary.TotalCost)
	}

	summary, err = store.CostSummary(ctx, CostFilter{TraceID: "t1"})
	if err != nil {
		t.Fatalf("CostSummary(trace) error: %v", err)
	}
	if summary.TotalEvents != 2 || !almostEqual(summary.TotalCost, 0.45) {
		t.Fatalf("trace summary mismatch: %+v", summary)
	}

	summary, err = store.CostSummary(ctx, CostFilter{TenantID: "globex"})
	if err != nil {
		t.Fatalf("CostSummary(tenant) error: %v", err)
	}
	if summary.TotalEvents != 1 || !almostEqual(summary.TotalCost, 0.05) {
		t.Fatalf("tenant summary mismatch: %+v", summary)
	}

	byModel, err := store.CostBuckets(ctx, CostFilter{Type: EventTypeLLM}, GroupByModel)
	if err != nil {
		t.Fatalf("CostBuckets(model) error: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("model buckets=%d, want 2", len(byModel))
	}
	if byModel[0].Key != "gpt-4o" || byModel[1].Key != "gpt-4o-mini" {
		t.Fatalf("model bucket keys mismatch: %+v", byModel)
	}

	byDay, err := store.CostBuckets(ctx, CostFilter{}, GroupByDay)
	if err != nil {
		t.Fatalf("CostBuckets(day) error: %v", err)
	}
	if len(byDay) != 2 || byDay[0].Key != "2026-03-05" || byDay[1].Key != "2026-03-06" {
		t.Fatalf("day bucket keys mismatch: %+v", byDay)
	}

	if _, err := store.CostBuckets(ctx, CostFilter{}, "hour"); err == nil {
		t.Fatal("CostBuckets accepted invalid group_by")
	}
}

func TestSQLitePromptVersioning(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	first, err := store.InsertPromptVersion(ctx, &PromptVersion{
		ID:           "p1",
		PromptKey:    "outline",
		Template:     "Write an outline about {topic}",
		TemplateHash: "hash-1",
	})
	if err != nil {
		t.Fatalf("InsertPromptVersion() error: %v", err)
	}
	if first.Version != "v1" {
		t.Fatalf("first version=%q, want v1", first.Version)
	}

	second, err := store.InsertPromptVersion(ctx, &PromptVersion{
		ID:           "p2",
		PromptKey:    "outline",
		Template:     "Write a detailed outline about {topic}",
		TemplateHash: "hash-2",
	})
	if err != nil {
		t.Fatalf("InsertPromptVersion(second) error: %v", err)
	}
	if second.Version != "v2" {
		t.Fatalf("second version=%q, want v2", second.Version)
	}

	// Losing the unique (key, hash) race returns the stored row.
	dup, err := store.InsertPromptVersion(ctx, &PromptVersion{
		ID:           "p3",
		PromptKey:    "outline",
		Template:     "Write an outline about {topic}",
		TemplateHash: "hash-1",
	})
	if err != nil {
		t.Fatalf("InsertPromptVersion(dup) error: %v", err)
	}
	if dup.ID != "p1" || dup.Version != "v1" {
		t.Fatalf("duplicate insert returned %+v, want existing p1/v1", dup)
	}

	latest, err := store.LatestPromptVersion(ctx, "outline")
	if err != nil {
		t.Fatalf("LatestPromptVersion() error: %v", err)
	}
	if latest.ID != "p2" {
		t.Fatalf("latest=%q, want p2", latest.ID)
	}

	versions, err := store.ListPromptVersions(ctx, "outline")
	if err != nil {
		t.Fatalf("ListPromptVersions() error: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != "v1" || versions[1].Version != "v2" {
		t.Fatalf("version order mismatch: %+v", versions)
	}

	if _, err := store.GetPromptVersion(ctx, "outline", "v9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetPromptVersion(miss) error=%v, want ErrNotFound", err)
	}
	if _, err := store.LatestPromptVersion(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestPromptVersion(miss) error=%v, want ErrNotFound", err)
	}
}

func TestSQLitePromptUsageAndComparison(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	v1, err := store.InsertPromptVersion(ctx, &PromptVersion{ID: "p1", PromptKey: "copy", Template: "a", TemplateHash: "h1"})
	if err != nil {
		t.Fatalf("InsertPromptVersion(v1) error: %v", err)
	}
	if _, err := store.InsertPromptVersion(ctx, &PromptVersion{ID: "p2", PromptKey: "copy", Template: "b", TemplateHash: "h2"}); err != nil {
		t.Fatalf("InsertPromptVersion(v2) error: %v", err)
	}
	if err := store.InsertTrace(ctx, &Trace{ID: "t1", Name: "run"}); err != nil {
		t.Fatalf("InsertTrace() error: %v", err)
	}
	events := []*Event{
		{ID: "e1", TraceID: "t1", Type: EventTypeLLM, Name: "gen", PromptID: v1.ID,
			TokensInput: i64(100), TokensOutput: i64(50), CostTotal: f64(0.02), DurationMS: i64(500), QualityScore: f64(0.9)},
		{ID: "e2", TraceID: "t1", Type: EventTypeLLM, Name: "gen", PromptID: v1.ID,
			TokensInput: i64(300), TokensOutput: i64(150), CostTotal: f64(0.06), DurationMS: i64(700), QualityScore: f64(0.3)},
		// Step events referencing a prompt are excluded from version comparison.
		{ID: "e3", TraceID: "t1", Type: EventTypeStep, Name: "post", PromptID: v1.ID},
	}
	for _, ev := range events {
		if err := store.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("InsertEvent(%s) error: %v", ev.ID, err)
		}
	}

	usage, err := store.PromptUsage(ctx, "copy")
	if err != nil {
		t.Fatalf("PromptUsage() error: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("usage rows=%d, want 2", len(usage))
	}
	if usage[0].EventCount != 3 || usage[0].LastUsedAt == nil {
		t.Fatalf("v1 usage mismatch: %+v", usage[0])
	}
	if usage[1].EventCount != 0 || usage[1].LastUsedAt != nil {
		t.Fatalf("zero-usage version mismatch: %+v", usage[1])
	}

	stats, err := store.ComparePromptVersions(ctx, "copy")
	if err != nil {
		t.Fatalf("ComparePromptVersions() error: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats rows=%d, want 2", len(stats))
	}
	if stats[0].EventCount != 2 || stats[0].TokensInput != 400 || !almostEqual(stats[0].TotalCost, 0.08) {
		t.Fatalf("v1 stats mismatch: %+v", stats[0])
	}
	if stats[0].AvgQuality == nil || !almostEqual(*stats[0].AvgQuality, 0.6) {
		t.Fatalf("v1 avg quality=%v, want 0.6", stats[0].AvgQuality)
	}
	if stats[0].FirstUsedAt == nil || stats[0].LastUsedAt == nil {
		t.Fatalf("v1 usage timestamps missing: %+v", stats[0])
	}
	if stats[1].EventCount != 0 || stats[1].AvgQuality != nil || stats[1].FirstUsedAt != nil {
		t.Fatalf("unused version stats mismatch: %+v", stats[1])
	}

	quality, err := store.PromptQualityByID(ctx, v1.ID)
	if err != nil {
		t.Fatalf("PromptQualityByID() error: %v", err)
	}
	if quality.ScoredEvents != 2 || quality.HighCount != 1 || quality.LowCount != 1 {
		t.Fatalf("quality stats mismatch: %+v", quality)
	}
	if quality.MinQuality == nil || *quality.MinQuality != 0.3 || quality.MaxQuality == nil || *quality.MaxQuality != 0.9 {
		t.Fatalf("quality min/max mismatch: %+v", quality)
	}

	byKey, err := store.PromptQualityByKey(ctx, "copy")
	if err != nil {
		t.Fatalf("PromptQualityByKey() error: %v", err)
	}
	if byKey.ScoredEvents != 2 {
		t.Fatalf("key quality scored=%d, want 2", byKey.ScoredEvents)
	}

	empty, err := store.PromptQualityByKey(ctx, "unknown")
	if err != nil {
		t.Fatalf("PromptQualityByKey(unknown) error: %v", err)
	}
	if empty.ScoredEvents != 0 || empty.AvgQuality != nil {
		t.Fatalf("empty quality stats mismatch: %+v", empty)
	}
}

func TestSQLiteModelPricing(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if _, err := store.GetModelPricing(ctx, "gpt-4o-mini"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetModelPricing(miss) error=%v, want ErrNotFound", err)
	}

	entry := PricingEntry{Model: "gpt-4o-mini", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006}
	if err := store.UpsertModelPricing(ctx, entry); err != nil {
		t.Fatalf("UpsertModelPricing() error: %v", err)
	}

	got, err := store.GetModelPricing(ctx, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("GetModelPricing() error: %v", err)
	}
	if !almostEqual(got.InputPricePer1K, 0.00015) || !almostEqual(got.OutputPricePer1K, 0.0006) {
		t.Fatalf("pricing mismatch: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("updated_at not set")
	}

	entry.OutputPricePer1K = 0.0009
	if err := store.UpsertModelPricing(ctx, entry); err != nil {
		t.Fatalf("UpsertModelPricing(update) error: %v", err)
	}
	got, err = store.GetModelPricing(ctx, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("GetModelPricing(update) error: %v", err)
	}
	if !almostEqual(got.OutputPricePer1K, 0.0009) {
		t.Fatalf("updated pricing mismatch: %+v", got)
	}
}

func TestParseSQLiteTimestamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want time.Time
	}{
		{"2026-03-05 10:00:00", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"2026-03-05T10:00:00Z", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"2026-03-05 10:00:00.5+02:00", time.Date(2026, 3, 5, 8, 0, 0, 500000000, time.UTC)},
		{"", time.Time{}},
	}
	for _, tc := range cases {
		got, err := parseSQLiteTimestamp(tc.raw)
		if err != nil {
			t.Fatalf("parseSQLiteTimestamp(%q) error: %v", tc.raw, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseSQLiteTimestamp(%q)=%v, want %v", tc.raw, got, tc.want)
		}
	}

	if _, err := parseSQLiteTimestamp("yesterday"); err == nil {
		t.Fatal("parseSQLiteTimestamp accepted garbage")
	}
}
