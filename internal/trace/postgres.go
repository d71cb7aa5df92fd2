package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/draftforge/tracebook/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists traces in PostgreSQL via the pgx stdlib driver.
// Concurrent writers rely on the engine's transactional guarantees; no
// in-process locking is needed.
type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{
		DSN: dsn,
		db:  db,
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pgPlaceholders returns a generator of $1, $2, ... placeholders.
func pgPlaceholders() func() string {
	n := 0
	return func() string {
		n++
		return "$" + strconv.Itoa(n)
	}
}

const pgTraceSelectColumns = `
id, created_at, name, user_id, tenant_id, tags, metadata_json,
tokens_input_total, tokens_output_total, tokens_total, cost_total
`

func (s *PostgresStore) InsertTrace(ctx context.Context, t *Trace) error {
	if t == nil {
		return nil
	}

	row := *t
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO traces (
    id, created_at, name, user_id, tenant_id, tags, metadata_json,
    tokens_input_total, tokens_output_total, tokens_total, cost_total
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.ID,
		row.CreatedAt,
		row.Name,
		nullIfEmpty(row.UserID),
		nullIfEmpty(row.TenantID),
		nullIfEmpty(row.Tags),
		nullIfEmpty(row.Metadata),
		row.TokensInputTotal,
		row.TokensOutputTotal,
		row.TokensTotal,
		row.CostTotal,
	)
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgTraceSelectColumns+" FROM traces WHERE id = $1 LIMIT 1", id)
	item, err := scanTraceRowPG(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) QueryTraces(ctx context.Context, filter TraceFilter) ([]*Trace, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	next := pgPlaceholders()
	where := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if filter.UserID != "" {
		where = append(where, "user_id = "+next())
		args = append(args, filter.UserID)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = "+next())
		args = append(args, filter.TenantID)
	}
	if filter.NameContains != "" {
		where = append(where, `name LIKE `+next()+` ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.NameContains)+"%")
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= "+next())
		args = append(args, filter.CreatedAfter.UTC())
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at <= "+next())
		args = append(args, filter.CreatedBefore.UTC())
	}
	whereSQL := "1=1"
	if len(where) > 0 {
		whereSQL = strings.Join(where, " AND ")
	}
	args = append(args, limit)

	query := "SELECT " + pgTraceSelectColumns + " FROM traces WHERE " + whereSQL + " ORDER BY created_at DESC, id DESC LIMIT " + next()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	items := make([]*Trace, 0, limit)
	for rows.Next() {
		item, err := scanTraceRowPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace rows: %w", err)
	}
	return items, nil
}

const pgEventSelectColumns = `
id, trace_id, parent_id, prompt_id, created_at, type, name, model, role,
input_text, input_json, output_text, output_json, error, duration_ms,
tokens_input, tokens_output, tokens_total, cost_input, cost_output, cost_total,
quality_score, quality_label, quality_metadata_json, metadata_json
`

func (s *PostgresStore) InsertEvent(ctx context.Context, e *Event) error {
	if e == nil {
		return nil
	}

	row := *e
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if row.ParentID != "" {
		var parentTrace string
		err := tx.QueryRowContext(ctx, `SELECT trace_id FROM events WHERE id = $1`, row.ParentID).Scan(&parentTrace)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidParent
		}
		if err != nil {
			return fmt.Errorf("resolve parent event %q: %w", row.ParentID, err)
		}
		if parentTrace != row.TraceID {
			return ErrInvalidParent
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO events (
    id, trace_id, parent_id, prompt_id, created_at, type, name, model, role,
    input_text, input_json, output_text, output_json, error, duration_ms,
    tokens_input, tokens_output, tokens_total, cost_input, cost_output, cost_total,
    quality_score, quality_label, quality_metadata_json, metadata_json
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		row.ID,
		row.TraceID,
		nullIfEmpty(row.ParentID),
		nullIfEmpty(row.PromptID),
		row.CreatedAt,
		row.Type,
		row.Name,
		nullIfEmpty(row.Model),
		nullIfEmpty(row.Role),
		nullIfEmpty(row.InputText),
		nullIfEmpty(row.InputJSON),
		nullIfEmpty(row.OutputText),
		nullIfEmpty(row.OutputJSON),
		nullIfEmpty(row.Error),
		row.DurationMS,
		row.TokensInput,
		row.TokensOutput,
		row.TokensTotal,
		row.CostInput,
		row.CostOutput,
		row.CostTotal,
		row.QualityScore,
		nullIfEmpty(row.QualityLabel),
		nullIfEmpty(row.QualityMetadata),
		nullIfEmpty(row.Metadata),
	); err != nil {
		return fmt.Errorf("write event %q: %w", row.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgEventSelectColumns+" FROM events WHERE id = $1 LIMIT 1", id)
	item, err := scanEventRowPG(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event %q: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) EventsByTrace(ctx context.Context, traceID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+pgEventSelectColumns+" FROM events WHERE trace_id = $1 ORDER BY created_at ASC, id ASC", traceID)
	if err != nil {
		return nil, fmt.Errorf("query events for trace %q: %w", traceID, err)
	}
	defer rows.Close()

	items := make([]*Event, 0)
	for rows.Next() {
		item, err := scanEventRowPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateEventQuality(ctx context.Context, id string, score *float64, label, metadata string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE events SET quality_score = $1, quality_label = $2, quality_metadata_json = $3 WHERE id = $4`,
		score, nullIfEmpty(label), nullIfEmpty(metadata), id)
	if err != nil {
		return fmt.Errorf("update event quality %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read update row count: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SearchEvents(ctx context.Context, query string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.db.QueryContext(ctx, "SELECT "+pgEventSelectColumns+` FROM events
WHERE input_text LIKE $1 ESCAPE '\' OR output_text LIKE $1 ESCAPE '\'
ORDER BY created_at DESC, id DESC LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	items := make([]*Event, 0, limit)
	for rows.Next() {
		item, err := scanEventRowPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CostSummary(ctx context.Context, filter CostFilter) (*CostSummary, error) {
	whereSQL, args := buildCostWhere(filter, pgPlaceholders())
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(e.tokens_input), 0),
	COALESCE(SUM(e.tokens_output), 0),
	COALESCE(SUM(e.tokens_total), 0),
	COALESCE(SUM(e.cost_total), 0),
	COALESCE(AVG(e.cost_total), 0),
	COALESCE(AVG(e.duration_ms), 0)
FROM events e
JOIN traces t ON e.trace_id = t.id
WHERE `+whereSQL, args...)

	var summary CostSummary
	if err := row.Scan(
		&summary.TotalEvents,
		&summary.TotalTokensInput,
		&summary.TotalTokensOutput,
		&summary.TotalTokens,
		&summary.TotalCost,
		&summary.AvgCostPerEvent,
		&summary.AvgDurationMS,
	); err != nil {
		return nil, fmt.Errorf("query cost summary: %w", err)
	}
	return &summary, nil
}

func pgCostGroupExpression(groupBy string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(groupBy)) {
	case GroupByDay:
		return "to_char(date_trunc('day', e.created_at), 'YYYY-MM-DD')", nil
	case GroupByModel:
		return "COALESCE(e.model, '')", nil
	case GroupByTenant:
		return "COALESCE(t.tenant_id, '')", nil
	case GroupByUser:
		return "COALESCE(t.user_id, '')", nil
	default:
		return "", fmt.Errorf("invalid group_by: %q", groupBy)
	}
}

func (s *PostgresStore) CostBuckets(ctx context.Context, filter CostFilter, groupBy string) ([]CostBucket, error) {
	groupExpr, err := pgCostGroupExpression(groupBy)
	if err != nil {
		return nil, err
	}

	whereSQL, args := buildCostWhere(filter, pgPlaceholders())
	query := `
SELECT
	` + groupExpr + ` AS bucket_key,
	COUNT(*),
	COALESCE(SUM(e.tokens_total), 0),
	COALESCE(SUM(e.cost_total), 0)
FROM events e
JOIN traces t ON e.trace_id = t.id
WHERE ` + whereSQL + `
GROUP BY bucket_key
ORDER BY bucket_key ASC
`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cost buckets: %w", err)
	}
	defer rows.Close()

	buckets := make([]CostBucket, 0)
	for rows.Next() {
		var (
			key    sql.NullString
			bucket CostBucket
		)
		if err := rows.Scan(&key, &bucket.EventCount, &bucket.TotalTokens, &bucket.TotalCost); err != nil {
			return nil, fmt.Errorf("scan cost bucket row: %w", err)
		}
		bucket.Key = stringOrEmpty(key)
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost bucket rows: %w", err)
	}
	return buckets, nil
}

const pgPromptSelectColumns = `
id, prompt_key, version, template, template_hash, description, created_at, metadata_json
`

func (s *PostgresStore) PromptVersionsByHash(ctx context.Context, key, hash string) ([]*PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+pgPromptSelectColumns+" FROM prompts WHERE prompt_key = $1 AND template_hash = $2 ORDER BY created_at ASC, id ASC", key, hash)
	if err != nil {
		return nil, fmt.Errorf("query prompts by hash: %w", err)
	}
	defer rows.Close()

	items := make([]*PromptVersion, 0, 1)
	for rows.Next() {
		item, err := scanPromptRowPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}
	return items, nil
}

// InsertPromptVersion serializes version assignment per prompt key with an
// advisory transaction lock so concurrent registrations cannot claim the
// same version number.
func (s *PostgresStore) InsertPromptVersion(ctx context.Context, p *PromptVersion) (*PromptVersion, error) {
	if p == nil {
		return nil, fmt.Errorf("prompt version is required")
	}

	row := *p
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin prompt transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, row.PromptKey); err != nil {
			return fmt.Errorf("acquire prompt key lock: %w", err)
		}

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts WHERE prompt_key = $1`, row.PromptKey).Scan(&existing); err != nil {
			return fmt.Errorf("count prompt versions: %w", err)
		}
		row.Version = "v" + strconv.Itoa(existing+1)

		if _, err := tx.ExecContext(ctx, `
INSERT INTO prompts (id, prompt_key, version, template, template_hash, description, created_at, metadata_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			row.ID,
			row.PromptKey,
			row.Version,
			row.Template,
			row.TemplateHash,
			nullIfEmpty(row.Description),
			row.CreatedAt,
			nullIfEmpty(row.Metadata),
		); err != nil {
			return fmt.Errorf("insert prompt row: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit prompt transaction: %w", err)
		}
		return nil
	}()
	if err != nil {
		if ClassifyWriteError(err) == WriteErrorClassConstraint {
			winners, lookupErr := s.PromptVersionsByHash(ctx, row.PromptKey, row.TemplateHash)
			if lookupErr == nil {
				for _, winner := range winners {
					if winner.Template == row.Template {
						return winner, nil
					}
				}
			}
		}
		return nil, fmt.Errorf("write prompt version for key %q: %w", row.PromptKey, err)
	}
	return &row, nil
}

func (s *PostgresStore) GetPromptVersion(ctx context.Context, key, version string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgPromptSelectColumns+" FROM prompts WHERE prompt_key = $1 AND version = $2 LIMIT 1", key, version)
	item, err := scanPromptRowPG(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt %q version %q: %w", key, version, err)
	}
	return item, nil
}

func (s *PostgresStore) LatestPromptVersion(ctx context.Context, key string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgPromptSelectColumns+" FROM prompts WHERE prompt_key = $1 ORDER BY created_at DESC, id DESC LIMIT 1", key)
	item, err := scanPromptRowPG(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest prompt %q: %w", key, err)
	}
	return item, nil
}

func (s *PostgresStore) ListPromptVersions(ctx context.Context, key string) ([]*PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+pgPromptSelectColumns+" FROM prompts WHERE prompt_key = $1 ORDER BY created_at ASC, id ASC", key)
	if err != nil {
		return nil, fmt.Errorf("list prompt versions for %q: %w", key, err)
	}
	defer rows.Close()

	items := make([]*PromptVersion, 0)
	for rows.Next() {
		item, err := scanPromptRowPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) PromptUsage(ctx context.Context, key string) ([]PromptUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
	p.id,
	p.prompt_key,
	p.version,
	p.created_at,
	COUNT(e.id),
	COALESCE(SUM(e.cost_total), 0),
	MAX(e.created_at)
FROM prompts p
LEFT JOIN events e ON e.prompt_id = p.id
WHERE p.prompt_key = $1
GROUP BY p.id, p.prompt_key, p.version, p.created_at
ORDER BY p.created_at ASC, p.id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("query prompt usage for %q: %w", key, err)
	}
	defer rows.Close()

	items := make([]PromptUsage, 0)
	for rows.Next() {
		var (
			item       PromptUsage
			lastUsedAt sql.NullTime
		)
		if err := rows.Scan(&item.PromptID, &item.PromptKey, &item.Version, &item.CreatedAt, &item.EventCount, &item.TotalCost, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("scan prompt usage row: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		if lastUsedAt.Valid {
			used := lastUsedAt.Time.UTC()
			item.LastUsedAt = &used
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt usage rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ComparePromptVersions(ctx context.Context, key string) ([]PromptVersionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
	p.id,
	p.version,
	COUNT(e.id),
	COALESCE(SUM(e.tokens_input), 0),
	COALESCE(SUM(e.tokens_output), 0),
	COALESCE(SUM(e.cost_total), 0),
	COALESCE(AVG(e.cost_total), 0),
	COALESCE(AVG(e.duration_ms), 0),
	AVG(e.quality_score),
	MIN(e.created_at),
	MAX(e.created_at)
FROM prompts p
LEFT JOIN events e ON e.prompt_id = p.id AND e.type = 'llm'
WHERE p.prompt_key = $1
GROUP BY p.id, p.version, p.created_at
ORDER BY p.created_at ASC, p.id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("compare prompt versions for %q: %w", key, err)
	}
	defer rows.Close()

	items := make([]PromptVersionStats, 0)
	for rows.Next() {
		var (
			item        PromptVersionStats
			avgQuality  sql.NullFloat64
			firstUsedAt sql.NullTime
			lastUsedAt  sql.NullTime
		)
		if err := rows.Scan(
			&item.PromptID,
			&item.Version,
			&item.EventCount,
			&item.TokensInput,
			&item.TokensOutput,
			&item.TotalCost,
			&item.AvgCost,
			&item.AvgDurationMS,
			&avgQuality,
			&firstUsedAt,
			&lastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prompt stats row: %w", err)
		}
		item.AvgQuality = float64Ptr(avgQuality)
		if firstUsedAt.Valid {
			used := firstUsedAt.Time.UTC()
			item.FirstUsedAt = &used
		}
		if lastUsedAt.Valid {
			used := lastUsedAt.Time.UTC()
			item.LastUsedAt = &used
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt stats rows: %w", err)
	}
	return items, nil
}

const pgPromptQualitySelect = `
SELECT
	COUNT(e.quality_score),
	AVG(e.quality_score),
	MIN(e.quality_score),
	MAX(e.quality_score),
	COALESCE(SUM(CASE WHEN e.quality_score >= $1 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN e.quality_score < $2 THEN 1 ELSE 0 END), 0)
`

func (s *PostgresStore) PromptQualityByID(ctx context.Context, promptID string) (*PromptQualityStats, error) {
	row := s.db.QueryRowContext(ctx, pgPromptQualitySelect+`
FROM events e
WHERE e.prompt_id = $3 AND e.quality_score IS NOT NULL`,
		HighQualityThreshold, LowQualityThreshold, promptID)
	return scanPromptQualityRow(row)
}

func (s *PostgresStore) PromptQualityByKey(ctx context.Context, key string) (*PromptQualityStats, error) {
	row := s.db.QueryRowContext(ctx, pgPromptQualitySelect+`
FROM events e
JOIN prompts p ON e.prompt_id = p.id
WHERE p.prompt_key = $3 AND e.quality_score IS NOT NULL`,
		HighQualityThreshold, LowQualityThreshold, key)
	return scanPromptQualityRow(row)
}

func (s *PostgresStore) GetModelPricing(ctx context.Context, model string) (*PricingEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT model, input_price_per_1k, output_price_per_1k, updated_at
FROM model_pricing WHERE model = $1 LIMIT 1`, model)

	var entry PricingEntry
	if err := row.Scan(&entry.Model, &entry.InputPricePer1K, &entry.OutputPricePer1K, &entry.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get model pricing %q: %w", model, err)
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func (s *PostgresStore) UpsertModelPricing(ctx context.Context, entry PricingEntry) error {
	if strings.TrimSpace(entry.Model) == "" {
		return fmt.Errorf("pricing model cannot be empty")
	}

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO model_pricing (model, input_price_per_1k, output_price_per_1k, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (model) DO UPDATE SET
	input_price_per_1k = EXCLUDED.input_price_per_1k,
	output_price_per_1k = EXCLUDED.output_price_per_1k,
	updated_at = EXCLUDED.updated_at`,
		entry.Model, entry.InputPricePer1K, entry.OutputPricePer1K, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert model pricing %q: %w", entry.Model, err)
	}
	return nil
}

func scanTraceRowPG(scanner rowScanner) (*Trace, error) {
	var (
		item              Trace
		userID            sql.NullString
		tenantID          sql.NullString
		tags              sql.NullString
		metadata          sql.NullString
		tokensInputTotal  sql.NullInt64
		tokensOutputTotal sql.NullInt64
		tokensTotal       sql.NullInt64
		costTotal         sql.NullFloat64
	)

	if err := scanner.Scan(
		&item.ID,
		&item.CreatedAt,
		&item.Name,
		&userID,
		&tenantID,
		&tags,
		&metadata,
		&tokensInputTotal,
		&tokensOutputTotal,
		&tokensTotal,
		&costTotal,
	); err != nil {
		return nil, err
	}

	item.CreatedAt = item.CreatedAt.UTC()
	item.UserID = stringOrEmpty(userID)
	item.TenantID = stringOrEmpty(tenantID)
	item.Tags = stringOrEmpty(tags)
	item.Metadata = stringOrEmpty(metadata)
	item.TokensInputTotal = int64Ptr(tokensInputTotal)
	item.TokensOutputTotal = int64Ptr(tokensOutputTotal)
	item.TokensTotal = int64Ptr(tokensTotal)
	item.CostTotal = float64Ptr(costTotal)
	return &item, nil
}

func scanEventRowPG(scanner rowScanner) (*Event, error) {
	var (
		item            Event
		parentID        sql.NullString
		promptID        sql.NullString
		model           sql.NullString
		role            sql.NullString
		inputText       sql.NullString
		inputJSON       sql.NullString
		outputText      sql.NullString
		outputJSON      sql.NullString
		errorText       sql.NullString
		durationMS      sql.NullInt64
		tokensInput     sql.NullInt64
		tokensOutput    sql.NullInt64
		tokensTotal     sql.NullInt64
		costInput       sql.NullFloat64
		costOutput      sql.NullFloat64
		costTotal       sql.NullFloat64
		qualityScore    sql.NullFloat64
		qualityLabel    sql.NullString
		qualityMetadata sql.NullString
		metadata        sql.NullString
	)

	if err := scanner.Scan(
		&item.ID,
		&item.TraceID,
		&parentID,
		&promptID,
		&item.CreatedAt,
		&item.Type,
		&item.Name,
		&model,
		&role,
		&inputText,
		&inputJSON,
		&outputText,
		&outputJSON,
		&errorText,
		&durationMS,
		&tokensInput,
		&tokensOutput,
		&tokensTotal,
		&costInput,
		&costOutput,
		&costTotal,
		&qualityScore,
		&qualityLabel,
		&qualityMetadata,
		&metadata,
	); err != nil {
		return nil, err
	}

	item.CreatedAt = item.CreatedAt.UTC()
	item.ParentID = stringOrEmpty(parentID)
	item.PromptID = stringOrEmpty(promptID)
	item.Model = stringOrEmpty(model)
	item.Role = stringOrEmpty(role)
	item.InputText = stringOrEmpty(inputText)
	item.InputJSON = stringOrEmpty(inputJSON)
	item.OutputText = stringOrEmpty(outputText)
	item.OutputJSON = stringOrEmpty(outputJSON)
	item.Error = stringOrEmpty(errorText)
	item.DurationMS = int64Ptr(durationMS)
	item.TokensInput = int64Ptr(tokensInput)
	item.TokensOutput = int64Ptr(tokensOutput)
	item.TokensTotal = int64Ptr(tokensTotal)
	item.CostInput = float64Ptr(costInput)
	item.CostOutput = float64Ptr(costOutput)
	item.CostTotal = float64Ptr(costTotal)
	item.QualityScore = float64Ptr(qualityScore)
	item.QualityLabel = stringOrEmpty(qualityLabel)
	item.QualityMetadata = stringOrEmpty(qualityMetadata)
	item.Metadata = stringOrEmpty(metadata)
	return &item, nil
}

func scanPromptRowPG(scanner rowScanner) (*PromptVersion, error) {
	var (
		item        PromptVersion
		description sql.NullString
		metadata    sql.NullString
	)

	if err := scanner.Scan(
		&item.ID,
		&item.PromptKey,
		&item.Version,
		&item.Template,
		&item.TemplateHash,
		&description,
		&item.CreatedAt,
		&metadata,
	); err != nil {
		return nil, err
	}

	item.CreatedAt = item.CreatedAt.UTC()
	item.Description = stringOrEmpty(description)
	item.Metadata = stringOrEmpty(metadata)
	return &item, nil
}
