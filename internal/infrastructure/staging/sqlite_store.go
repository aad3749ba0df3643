package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_jobs (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	source_name TEXT NOT NULL,
	started_at TEXT NOT NULL,
	diagnostics TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS work_items (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	job_id TEXT NOT NULL REFERENCES harvest_jobs(id),
	source_id TEXT NOT NULL,
	guid TEXT NOT NULL,
	action TEXT NOT NULL,
	dataset TEXT,
	state TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	outcome TEXT
);
CREATE INDEX IF NOT EXISTS work_items_job_state ON work_items(job_id, state);
`

// SQLiteStore keeps work items in a local SQLite file so the harvest stages
// can run as separate processes.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

var _ ports.WorkItemStore = (*SQLiteStore)(nil)

// Open opens or creates the staging database at path.
func Open(path string) (*SQLiteStore, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open staging db %s: %w", path, err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create staging schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close releases the connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job domain.HarvestJob) error {
	diagnostics, err := json.Marshal(nonNil(job.Diagnostics))
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	err = sqlitex.Execute(s.conn,
		`INSERT INTO harvest_jobs (id, source_id, source_name, started_at, diagnostics) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{job.ID, job.SourceID, job.SourceName, job.StartedAt.UTC().Format(time.RFC3339Nano), string(diagnostics)}})
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Job(ctx context.Context, jobID string) (domain.HarvestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	var (
		job   domain.HarvestJob
		found bool
	)
	err := sqlitex.Execute(s.conn,
		`SELECT id, source_id, source_name, started_at, diagnostics FROM harvest_jobs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				job.ID = stmt.ColumnText(0)
				job.SourceID = stmt.ColumnText(1)
				job.SourceName = stmt.ColumnText(2)
				started, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(3))
				if err != nil {
					return fmt.Errorf("parse started_at: %w", err)
				}
				job.StartedAt = started
				return json.Unmarshal([]byte(stmt.ColumnText(4)), &job.Diagnostics)
			},
		})
	if err != nil {
		return domain.HarvestJob{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	if !found {
		return domain.HarvestJob{}, &domain.NotFoundError{Kind: "job", Ref: jobID}
	}
	return job, nil
}

// Enqueue inserts every item in one transaction.
func (s *SQLiteStore) Enqueue(ctx context.Context, items []domain.WorkItem) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	defer sqlitex.Save(s.conn)(&err)

	for _, item := range items {
		payload, outcome, err := encodeItem(item)
		if err != nil {
			return err
		}
		err = sqlitex.Execute(s.conn,
			`INSERT INTO work_items (id, job_id, source_id, guid, action, dataset, state, error, outcome) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{item.ID, item.JobID, item.SourceID, item.GUID, string(item.Action), payload, string(item.State), item.Error, outcome}})
		if err != nil {
			return fmt.Errorf("insert item %s: %w", item.GUID, err)
		}
	}
	return nil
}

// Items lists the items of a job in enqueue order. An empty state selects
// every item.
func (s *SQLiteStore) Items(ctx context.Context, jobID string, state domain.WorkItemState) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	query := `SELECT id, job_id, source_id, guid, action, dataset, state, error, outcome FROM work_items WHERE job_id = ?`
	args := []any{jobID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY seq`

	var items []domain.WorkItem
	err := sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			item := domain.WorkItem{
				ID:       stmt.ColumnText(0),
				JobID:    stmt.ColumnText(1),
				SourceID: stmt.ColumnText(2),
				GUID:     stmt.ColumnText(3),
				Action:   domain.Action(stmt.ColumnText(4)),
				State:    domain.WorkItemState(stmt.ColumnText(6)),
				Error:    stmt.ColumnText(7),
			}
			if stmt.ColumnType(5) != sqlite.TypeNull {
				var ds domain.CanonicalDataset
				if err := json.Unmarshal([]byte(stmt.ColumnText(5)), &ds); err != nil {
					return fmt.Errorf("decode item %s: %w", item.GUID, err)
				}
				item.Dataset = &ds
			}
			if stmt.ColumnType(8) != sqlite.TypeNull {
				var outcome domain.Outcome
				if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &outcome); err != nil {
					return fmt.Errorf("decode outcome of %s: %w", item.GUID, err)
				}
				item.Outcome = &outcome
			}
			items = append(items, item)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("select items of job %s: %w", jobID, err)
	}
	return items, nil
}

// Save stores the state, error, payload and outcome of an existing item.
func (s *SQLiteStore) Save(ctx context.Context, item domain.WorkItem) error {
	payload, outcome, err := encodeItem(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	err = sqlitex.Execute(s.conn,
		`UPDATE work_items SET dataset = ?, state = ?, error = ?, outcome = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{payload, string(item.State), item.Error, outcome, item.ID}})
	if err != nil {
		return fmt.Errorf("update item %s: %w", item.GUID, err)
	}
	if s.conn.Changes() == 0 {
		return &domain.NotFoundError{Kind: "work item", Ref: item.ID}
	}
	return nil
}

// encodeItem renders the nullable JSON columns of an item.
func encodeItem(item domain.WorkItem) (dataset, outcome any, err error) {
	if item.Dataset != nil {
		raw, err := json.Marshal(item.Dataset)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal dataset of %s: %w", item.GUID, err)
		}
		dataset = string(raw)
	}
	if item.Outcome != nil {
		raw, err := json.Marshal(item.Outcome)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal outcome of %s: %w", item.GUID, err)
		}
		outcome = string(raw)
	}
	return dataset, outcome, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
