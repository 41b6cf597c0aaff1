package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	sources         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	parsed_records  INTEGER NOT NULL DEFAULT 0,
	deduped_records INTEGER NOT NULL DEFAULT 0,
	failed_records  INTEGER NOT NULL DEFAULT 0,
	output_path     TEXT,
	error           TEXT,
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME
);

CREATE TABLE IF NOT EXISTS journal_metrics (
	journal   TEXT PRIMARY KEY,
	metrics   TEXT NOT NULL,
	cached_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, sources []string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, sources, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(sourcesJSON), string(RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{ID: id, Sources: sources, Status: RunRunning, StartedAt: now}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, result RunResult) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, parsed_records = ?, deduped_records = ?,
			failed_records = ?, output_path = ?, finished_at = ? WHERE id = ?`,
		string(RunComplete), result.ParsedRecords, result.DedupedRecords,
		result.FailedRecords, result.OutputPath, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID, message string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(RunFailed), message, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sources, status, parsed_records, deduped_records, failed_records,
			output_path, error, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row.Scan)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, sources, status, parsed_records, deduped_records, failed_records,
		output_path, error, started_at, finished_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) GetJournalMetrics(ctx context.Context, journal string, maxAge time.Duration) (map[string]string, bool, error) {
	var metricsJSON string
	var cachedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT metrics, cached_at FROM journal_metrics WHERE journal = ?`,
		journal,
	).Scan(&metricsJSON, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get journal metrics %s", journal)
	}
	if maxAge > 0 && time.Since(cachedAt) > maxAge {
		return nil, false, nil
	}

	var metrics map[string]string
	if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal journal metrics")
	}
	return metrics, true, nil
}

func (s *SQLiteStore) PutJournalMetrics(ctx context.Context, journal string, metrics map[string]string) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal journal metrics")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_metrics (journal, metrics, cached_at) VALUES (?, ?, ?)
			ON CONFLICT(journal) DO UPDATE SET metrics = excluded.metrics, cached_at = excluded.cached_at`,
		journal, string(metricsJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put journal metrics %s", journal)
}

// scanRun decodes one runs row via the given Scan function.
func scanRun(scan func(dest ...any) error) (*Run, error) {
	var (
		r           Run
		sourcesJSON string
		status      string
		outputPath  sql.NullString
		errMsg      sql.NullString
		finishedAt  sql.NullTime
	)
	err := scan(&r.ID, &sourcesJSON, &status, &r.ParsedRecords, &r.DedupedRecords,
		&r.FailedRecords, &outputPath, &errMsg, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(err, "store: run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if err := json.Unmarshal([]byte(sourcesJSON), &r.Sources); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal sources")
	}
	r.Status = RunStatus(status)
	r.OutputPath = outputPath.String
	r.Error = errMsg.String
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Errorf("store: run %s not found", runID)
	}
	return nil
}
