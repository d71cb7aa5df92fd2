package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/draftforge/tracebook/migrations"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists traces in a local SQLite file. SQLite allows only
// one writer at a time; writes are serialized through writeMu and retried
// on transient SQLITE_BUSY contention so parallel pipeline runs sharing
// one file do not lose events.
type SQLiteStore struct {
	Path    string
	db      *sql.DB
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{
		Path: path,
		db:   db,
	}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so concurrent writers
// do not drop events.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}

const traceSelectColumns = `
id,
CAST(created_at AS TEXT),
name,
user_id,
tenant_id,
tags,
metadata_json,
tokens_input_total,
tokens_output_total,
tokens_total,
cost_total
`

func (s *SQLiteStore) InsertTrace(ctx context.Context, t *Trace) error {
	if t == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := *t
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO traces (
    id, created_at, name, user_id, tenant_id, tags, metadata_json,
    tokens_input_total, tokens_output_total, tokens_total, cost_total
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		return err
	})
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+traceSelectColumns+" FROM traces WHERE id = ? LIMIT 1", id)
	item, err := scanTraceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return item, nil
}

func (s *SQLiteStore) QueryTraces(ctx context.Context, filter TraceFilter) ([]*Trace, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	where := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.NameContains != "" {
		where = append(where, `name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.NameContains)+"%")
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UTC())
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.CreatedBefore.UTC())
	}
	whereSQL := "1=1"
	if len(where) > 0 {
		whereSQL = strings.Join(where, " AND ")
	}
	args = append(args, limit)

	query := "SELECT " + traceSelectColumns + " FROM traces WHERE " + whereSQL + " ORDER BY created_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	items := make([]*Trace, 0, limit)
	for rows.Next() {
		item, err := scanTraceRow(rows)
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

const eventSelectColumns = `
id,
trace_id,
parent_id,
prompt_id,
CAST(created_at AS TEXT),
type,
name,
model,
role,
input_text,
input_json,
output_text,
output_json,
error,
duration_ms,
tokens_input,
tokens_output,
tokens_total,
cost_input,
cost_output,
cost_total,
quality_score,
quality_label,
quality_metadata_json,
metadata_json
`

func (s *SQLiteStore) InsertEvent(ctx context.Context, e *Event) error {
	if e == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := *e
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin event transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if row.ParentID != "" {
			var parentTrace string
			err := tx.QueryRowContext(ctx, `SELECT trace_id FROM events WHERE id = ?`, row.ParentID).Scan(&parentTrace)
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
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
			return fmt.Errorf("insert event row: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit event transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidParent) {
			return ErrInvalidParent
		}
		return fmt.Errorf("write event %q: %w", row.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventSelectColumns+" FROM events WHERE id = ? LIMIT 1", id)
	item, err := scanEventRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event %q: %w", id, err)
	}
	return item, nil
}

func (s *SQLiteStore) EventsByTrace(ctx context.Context, traceID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+eventSelectColumns+" FROM events WHERE trace_id = ? ORDER BY created_at ASC, id ASC", traceID)
	if err != nil {
		return nil, fmt.Errorf("query events for trace %q: %w", traceID, err)
	}
	defer rows.Close()

	items := make([]*Event, 0)
	for rows.Next() {
		item, err := scanEventRow(rows)
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

func (s *SQLiteStore) UpdateEventQuality(ctx context.Context, id string, score *float64, label, metadata string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var affected int64
	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
UPDATE events SET quality_score = ?, quality_label = ?, quality_metadata_json = ? WHERE id = ?`,
			score, nullIfEmpty(label), nullIfEmpty(metadata), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update event quality %q: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SearchEvents(ctx context.Context, query string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.db.QueryContext(ctx, "SELECT "+eventSelectColumns+` FROM events
WHERE input_text LIKE ? ESCAPE '\' OR output_text LIKE ? ESCAPE '\'
ORDER BY created_at DESC, id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	items := make([]*Event, 0, limit)
	for rows.Next() {
		item, err := scanEventRow(rows)
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

func buildCostWhere(filter CostFilter, placeholder func() string) (string, []any) {
	where := make([]string, 0, 7)
	args := make([]any, 0, 7)

	add := func(clause string, arg any) {
		where = append(where, strings.Replace(clause, "{}", placeholder(), 1))
		args = append(args, arg)
	}

	if filter.TraceID != "" {
		add("e.trace_id = {}", filter.TraceID)
	}
	if filter.UserID != "" {
		add("t.user_id = {}", filter.UserID)
	}
	if filter.TenantID != "" {
		add("t.tenant_id = {}", filter.TenantID)
	}
	if filter.Model != "" {
		add("e.model = {}", filter.Model)
	}
	if filter.Type != "" {
		add("e.type = {}", filter.Type)
	}
	if !filter.From.IsZero() {
		add("e.created_at >= {}", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("e.created_at <= {}", filter.To.UTC())
	}

	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}

func sqlitePlaceholder() string { return "?" }

func (s *SQLiteStore) CostSummary(ctx context.Context, filter CostFilter) (*CostSummary, error) {
	whereSQL, args := buildCostWhere(filter, sqlitePlaceholder)
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

func sqliteCostGroupExpression(groupBy string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(groupBy)) {
	case GroupByDay:
		return "strftime('%Y-%m-%d', e.created_at)", nil
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

func (s *SQLiteStore) CostBuckets(ctx context.Context, filter CostFilter, groupBy string) ([]CostBucket, error) {
	groupExpr, err := sqliteCostGroupExpression(groupBy)
	if err != nil {
		return nil, err
	}

	whereSQL, args := buildCostWhere(filter, sqlitePlaceholder)
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

const promptSelectColumns = `
id,
prompt_key,
version,
template,
template_hash,
description,
CAST(created_at AS TEXT),
metadata_json
`

func (s *SQLiteStore) PromptVersionsByHash(ctx context.Context, key, hash string) ([]*PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+promptSelectColumns+" FROM prompts WHERE prompt_key = ? AND template_hash = ? ORDER BY created_at ASC, id ASC", key, hash)
	if err != nil {
		return nil, fmt.Errorf("query prompts by hash: %w", err)
	}
	defer rows.Close()

	items := make([]*PromptVersion, 0, 1)
	for rows.Next() {
		item, err := scanPromptRow(rows)
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

// InsertPromptVersion assigns the next version number for the prompt key
// and inserts the row in one transaction. A concurrent insert of identical
// content loses the unique (prompt_key, template_hash) race; the winner's
// row is returned in that case.
func (s *SQLiteStore) InsertPromptVersion(ctx context.Context, p *PromptVersion) (*PromptVersion, error) {
	if p == nil {
		return nil, fmt.Errorf("prompt version is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := *p
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin prompt transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts WHERE prompt_key = ?`, row.PromptKey).Scan(&existing); err != nil {
			return fmt.Errorf("count prompt versions: %w", err)
		}
		row.Version = "v" + strconv.Itoa(existing+1)

		if _, err := tx.ExecContext(ctx, `
INSERT INTO prompts (id, prompt_key, version, template, template_hash, description, created_at, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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
	})
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

func (s *SQLiteStore) GetPromptVersion(ctx context.Context, key, version string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+promptSelectColumns+" FROM prompts WHERE prompt_key = ? AND version = ? LIMIT 1", key, version)
	item, err := scanPromptRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt %q version %q: %w", key, version, err)
	}
	return item, nil
}

func (s *SQLiteStore) LatestPromptVersion(ctx context.Context, key string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+promptSelectColumns+" FROM prompts WHERE prompt_key = ? ORDER BY created_at DESC, id DESC LIMIT 1", key)
	item, err := scanPromptRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest prompt %q: %w", key, err)
	}
	return item, nil
}

func (s *SQLiteStore) ListPromptVersions(ctx context.Context, key string) ([]*PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+promptSelectColumns+" FROM prompts WHERE prompt_key = ? ORDER BY created_at ASC, id ASC", key)
	if err != nil {
		return nil, fmt.Errorf("list prompt versions for %q: %w", key, err)
	}
	defer rows.Close()

	items := make([]*PromptVersion, 0)
	for rows.Next() {
		item, err := scanPromptRow(rows)
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

func (s *SQLiteStore) PromptUsage(ctx context.Context, key string) ([]PromptUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
	p.id,
	p.prompt_key,
	p.version,
	CAST(p.created_at AS TEXT),
	COUNT(e.id),
	COALESCE(SUM(e.cost_total), 0),
	CAST(MAX(e.created_at) AS TEXT)
FROM prompts p
LEFT JOIN events e ON e.prompt_id = p.id
WHERE p.prompt_key = ?
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
			createdAt  sql.NullString
			lastUsedAt sql.NullString
		)
		if err := rows.Scan(&item.PromptID, &item.PromptKey, &item.Version, &createdAt, &item.EventCount, &item.TotalCost, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("scan prompt usage row: %w", err)
		}
		if createdAt.Valid {
			parsed, err := parseSQLiteTimestamp(createdAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse prompt created_at %q: %w", createdAt.String, err)
			}
			item.CreatedAt = parsed
		}
		if lastUsedAt.Valid && strings.TrimSpace(lastUsedAt.String) != "" {
			parsed, err := parseSQLiteTimestamp(lastUsedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse prompt last_used_at %q: %w", lastUsedAt.String, err)
			}
			item.LastUsedAt = &parsed
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt usage rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) ComparePromptVersions(ctx context.Context, key string) ([]PromptVersionStats, error) {
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
	CAST(MIN(e.created_at) AS TEXT),
	CAST(MAX(e.created_at) AS TEXT)
FROM prompts p
LEFT JOIN events e ON e.prompt_id = p.id AND e.type = 'llm'
WHERE p.prompt_key = ?
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
			firstUsedAt sql.NullString
			lastUsedAt  sql.NullString
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
		if firstUsedAt.Valid && strings.TrimSpace(firstUsedAt.String) != "" {
			parsed, err := parseSQLiteTimestamp(firstUsedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse first_used_at %q: %w", firstUsedAt.String, err)
			}
			item.FirstUsedAt = &parsed
		}
		if lastUsedAt.Valid && strings.TrimSpace(lastUsedAt.String) != "" {
			parsed, err := parseSQLiteTimestamp(lastUsedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_used_at %q: %w", lastUsedAt.String, err)
			}
			item.LastUsedAt = &parsed
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt stats rows: %w", err)
	}
	return items, nil
}

const promptQualitySelect = `
SELECT
	COUNT(e.quality_score),
	AVG(e.quality_score),
	MIN(e.quality_score),
	MAX(e.quality_score),
	COALESCE(SUM(CASE WHEN e.quality_score >= ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN e.quality_score < ? THEN 1 ELSE 0 END), 0)
`

func (s *SQLiteStore) PromptQualityByID(ctx context.Context, promptID string) (*PromptQualityStats, error) {
	row := s.db.QueryRowContext(ctx, promptQualitySelect+`
FROM events e
WHERE e.prompt_id = ? AND e.quality_score IS NOT NULL`,
		HighQualityThreshold, LowQualityThreshold, promptID)
	return scanPromptQualityRow(row)
}

func (s *SQLiteStore) PromptQualityByKey(ctx context.Context, key string) (*PromptQualityStats, error) {
	row := s.db.QueryRowContext(ctx, promptQualitySelect+`
FROM events e
JOIN prompts p ON e.prompt_id = p.id
WHERE p.prompt_key = ? AND e.quality_score IS NOT NULL`,
		HighQualityThreshold, LowQualityThreshold, key)
	return scanPromptQualityRow(row)
}

func scanPromptQualityRow(row *sql.Row) (*PromptQualityStats, error) {
	var (
		stats PromptQualityStats
		avg   sql.NullFloat64
		min   sql.NullFloat64
		max   sql.NullFloat64
	)
	if err := row.Scan(&stats.ScoredEvents, &avg, &min, &max, &stats.HighCount, &stats.LowCount); err != nil {
		return nil, fmt.Errorf("query prompt quality stats: %w", err)
	}
	stats.AvgQuality = float64Ptr(avg)
	stats.MinQuality = float64Ptr(min)
	stats.MaxQuality = float64Ptr(max)
	return &stats, nil
}

func (s *SQLiteStore) GetModelPricing(ctx context.Context, model string) (*PricingEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT model, input_price_per_1k, output_price_per_1k, CAST(updated_at AS TEXT)
FROM model_pricing WHERE model = ? LIMIT 1`, model)

	var (
		entry     PricingEntry
		updatedAt sql.NullString
	)
	if err := row.Scan(&entry.Model, &entry.InputPricePer1K, &entry.OutputPricePer1K, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get model pricing %q: %w", model, err)
	}
	if updatedAt.Valid {
		parsed, err := parseSQLiteTimestamp(updatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse pricing updated_at %q: %w", updatedAt.String, err)
		}
		entry.UpdatedAt = parsed
	}
	return &entry, nil
}

func (s *SQLiteStore) UpsertModelPricing(ctx context.Context, entry PricingEntry) error {
	if strings.TrimSpace(entry.Model) == "" {
		return fmt.Errorf("pricing model cannot be empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO model_pricing (model, input_price_per_1k, output_price_per_1k, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (model) DO UPDATE SET
	input_price_per_1k = excluded.input_price_per_1k,
	output_price_per_1k = excluded.output_price_per_1k,
	updated_at = excluded.updated_at`,
			entry.Model, entry.InputPricePer1K, entry.OutputPricePer1K, updatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert model pricing %q: %w", entry.Model, err)
	}
	return nil
}

func scanTraceRow(scanner rowScanner) (*Trace, error) {
	var (
		item              Trace
		createdAtText     sql.NullString
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
		&createdAtText,
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

	if createdAtText.Valid {
		parsed, err := parseSQLiteTimestamp(createdAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAtText.String, err)
		}
		item.CreatedAt = parsed
	}
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

func scanEventRow(scanner rowScanner) (*Event, error) {
	var (
		item            Event
		parentID        sql.NullString
		promptID        sql.NullString
		createdAtText   sql.NullString
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
		&createdAtText,
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

	if createdAtText.Valid {
		parsed, err := parseSQLiteTimestamp(createdAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAtText.String, err)
		}
		item.CreatedAt = parsed
	}
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

func scanPromptRow(scanner rowScanner) (*PromptVersion, error) {
	var (
		item          PromptVersion
		description   sql.NullString
		createdAtText sql.NullString
		metadata      sql.NullString
	)

	if err := scanner.Scan(
		&item.ID,
		&item.PromptKey,
		&item.Version,
		&item.Template,
		&item.TemplateHash,
		&description,
		&createdAtText,
		&metadata,
	); err != nil {
		return nil, err
	}

	item.Description = stringOrEmpty(description)
	item.Metadata = stringOrEmpty(metadata)
	if createdAtText.Valid {
		parsed, err := parseSQLiteTimestamp(createdAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAtText.String, err)
		}
		item.CreatedAt = parsed
	}
	return &item, nil
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format")
}
