// Package storage keeps the history of resolved tasks in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/btwld/docling-sdk-sub000/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS task_results (
	job_id        TEXT PRIMARY KEY,
	success       BOOLEAN NOT NULL,
	final_status  TEXT NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_results_completed ON task_results (completed_at DESC, job_id DESC);
`

const selectColumns = `job_id, success, final_status, error_kind, error_message,
	source, duration_ms, started_at, completed_at`

// Storage reads and writes task results
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a Storage on an open database
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// NewFromClient creates a Storage on the pool of a postgres client
func NewFromClient(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return NewStorage(pg.GetDB(), logger)
}

// EnsureSchema creates the results table when missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveResult inserts rec or replaces the stored result of the same job
func (s *Storage) SaveResult(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO task_results (
			job_id, success, final_status, error_kind, error_message,
			source, duration_ms, started_at, completed_at
		) VALUES (
			:job_id, :success, :final_status, :error_kind, :error_message,
			:source, :duration_ms, :started_at, :completed_at
		)
		ON CONFLICT (job_id) DO UPDATE SET
			success = EXCLUDED.success,
			final_status = EXCLUDED.final_status,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			source = EXCLUDED.source,
			duration_ms = EXCLUDED.duration_ms,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("Result saved",
		slog.String("job_id", rec.JobID),
		slog.String("final_status", rec.FinalStatus),
	)
	return nil
}

// GetResult returns the stored result of jobID
func (s *Storage) GetResult(ctx context.Context, jobID string) (*Record, error) {
	var rec Record
	query := `SELECT ` + selectColumns + ` FROM task_results WHERE job_id = $1`

	if err := s.db.GetContext(ctx, &rec, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return &rec, nil
}

// Filter selects a page of results
type Filter struct {
	Success     *bool
	FinalStatus string
	Source      string
	PageSize    int
	Cursor      *Cursor
}

// Normalize clamps the page size into [1, MaxPageSize]
func (f Filter) Normalize() Filter {
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// BuildListQuery renders the page query for f, fetching one extra row to detect a next page
func BuildListQuery(f Filter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + selectColumns + ` FROM task_results WHERE 1=1`)

	args := []any{}
	next := func(v any) int {
		args = append(args, v)
		return len(args)
	}

	if f.Success != nil {
		fmt.Fprintf(&sb, " AND success = $%d", next(*f.Success))
	}
	if f.FinalStatus != "" {
		fmt.Fprintf(&sb, " AND final_status = $%d", next(f.FinalStatus))
	}
	if f.Source != "" {
		fmt.Fprintf(&sb, " AND source = $%d", next(f.Source))
	}
	if f.Cursor != nil {
		a := next(f.Cursor.CompletedAt)
		b := next(f.Cursor.JobID)
		fmt.Fprintf(&sb, " AND (completed_at, job_id) < ($%d, $%d)", a, b)
	}

	sb.WriteString(" ORDER BY completed_at DESC, job_id DESC")
	fmt.Fprintf(&sb, " LIMIT $%d", next(f.PageSize+1))

	return sb.String(), args
}

// Page is one page of results
type Page struct {
	Records    []Record
	NextCursor string
}

// ListResults returns the newest results matching filter
func (s *Storage) ListResults(ctx context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()
	query, args := BuildListQuery(filter)

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return Page{}, fmt.Errorf("failed to list results: %w", err)
	}

	page := Page{Records: records}
	if len(records) > filter.PageSize {
		page.Records = records[:filter.PageSize]
		page.NextCursor = NextCursor(page.Records)
	}
	return page, nil
}
