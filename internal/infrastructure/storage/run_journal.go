package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/ports"
)

// Schema creates the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	job_id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	source_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	diagnostics JSONB NOT NULL DEFAULT '[]',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	created INT NOT NULL DEFAULT 0,
	updated INT NOT NULL DEFAULT 0,
	unchanged INT NOT NULL DEFAULT 0,
	deleted INT NOT NULL DEFAULT 0,
	failed INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS harvest_runs_source ON harvest_runs (source_id, finished_at DESC);
CREATE TABLE IF NOT EXISTS harvest_run_items (
	job_id TEXT NOT NULL REFERENCES harvest_runs (job_id) ON DELETE CASCADE,
	guid TEXT NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	changes JSONB NOT NULL DEFAULT '[]'
);`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// RunJournal persists run reports into Postgres.
type RunJournal struct {
	db *sql.DB
}

var _ ports.RunRepository = (*RunJournal)(nil)

// OpenPostgres opens a pgx-backed *sql.DB and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewRunJournal wires a sql.DB implementation. A nil db turns every call
// into a no-op.
func NewRunJournal(db *sql.DB) *RunJournal {
	return &RunJournal{db: db}
}

// EnsureSchema creates missing tables.
func (j *RunJournal) EnsureSchema(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	if _, err := j.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// SaveRun upserts the run row and replaces its item rows.
func (j *RunJournal) SaveRun(ctx context.Context, report domain.RunReport) (err error) {
	if j.db == nil {
		return nil
	}

	diagnostics, err := json.Marshal(nonNilStrings(report.Diagnostics))
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query, args, err := psql.Insert("harvest_runs").
		Columns("job_id", "source_id", "source_name", "status", "error", "diagnostics",
			"started_at", "finished_at", "created", "updated", "unchanged", "deleted", "failed").
		Values(report.JobID, report.SourceID, report.SourceName, string(report.Status), report.Error, string(diagnostics),
			report.StartedAt, report.FinishedAt, report.Counts.Created, report.Counts.Updated,
			report.Counts.Unchanged, report.Counts.Deleted, report.Counts.Failed).
		Suffix(`ON CONFLICT (job_id) DO UPDATE
              SET status = EXCLUDED.status,
                  error = EXCLUDED.error,
                  diagnostics = EXCLUDED.diagnostics,
                  finished_at = EXCLUDED.finished_at,
                  created = EXCLUDED.created,
                  updated = EXCLUDED.updated,
                  unchanged = EXCLUDED.unchanged,
                  deleted = EXCLUDED.deleted,
                  failed = EXCLUDED.failed`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run upsert: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	query, args, err = psql.Delete("harvest_run_items").Where(sq.Eq{"job_id": report.JobID}).ToSql()
	if err != nil {
		return fmt.Errorf("build item delete: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}

	if len(report.Outcomes) > 0 {
		insert := psql.Insert("harvest_run_items").Columns("job_id", "guid", "action", "status", "reason", "changes")
		for _, o := range report.Outcomes {
			changes, mErr := json.Marshal(nonNilStrings(o.Changes))
			if mErr != nil {
				return fmt.Errorf("marshal changes of %s: %w", o.GUID, mErr)
			}
			insert = insert.Values(report.JobID, o.GUID, string(o.Action), string(o.Status), o.Reason, string(changes))
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return fmt.Errorf("build item insert: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LastRun returns the most recently finished run of a source without its
// item rows.
func (j *RunJournal) LastRun(ctx context.Context, sourceID string) (domain.RunReport, error) {
	if j.db == nil {
		return domain.RunReport{}, &domain.NotFoundError{Kind: "run", Ref: sourceID}
	}

	query, args, err := psql.Select("job_id", "source_id", "source_name", "status", "error", "diagnostics",
		"started_at", "finished_at", "created", "updated", "unchanged", "deleted", "failed").
		From("harvest_runs").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("finished_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("build last run query: %w", err)
	}

	var (
		report      domain.RunReport
		status      string
		diagnostics []byte
	)
	err = j.db.QueryRowContext(ctx, query, args...).Scan(
		&report.JobID, &report.SourceID, &report.SourceName, &status, &report.Error, &diagnostics,
		&report.StartedAt, &report.FinishedAt, &report.Counts.Created, &report.Counts.Updated,
		&report.Counts.Unchanged, &report.Counts.Deleted, &report.Counts.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunReport{}, &domain.NotFoundError{Kind: "run", Ref: sourceID}
	}
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("query last run: %w", err)
	}
	report.Status = domain.RunStatus(status)
	if err := json.Unmarshal(diagnostics, &report.Diagnostics); err != nil {
		return domain.RunReport{}, fmt.Errorf("decode diagnostics: %w", err)
	}
	return report, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
