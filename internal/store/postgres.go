package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	sources         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	parsed_records  INTEGER NOT NULL DEFAULT 0,
	deduped_records INTEGER NOT NULL DEFAULT 0,
	failed_records  INTEGER NOT NULL DEFAULT 0,
	output_path     TEXT,
	error           TEXT,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS journal_metrics (
	journal   TEXT PRIMARY KEY,
	metrics   JSONB NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, sources []string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, sources, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(sourcesJSON), string(RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &Run{ID: id, Sources: sources, Status: RunRunning, StartedAt: now}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, result RunResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, parsed_records = $2, deduped_records = $3,
			failed_records = $4, output_path = $5, finished_at = $6 WHERE id = $7`,
		string(RunComplete), result.ParsedRecords, result.DedupedRecords,
		result.FailedRecords, result.OutputPath, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("store: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(RunFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("store: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sources, status, parsed_records, deduped_records, failed_records,
			output_path, error, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "store: run %s not found", runID)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, sources, status, parsed_records, deduped_records, failed_records,
		output_path, error, started_at, finished_at FROM runs`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) GetJournalMetrics(ctx context.Context, journal string, maxAge time.Duration) (map[string]string, bool, error) {
	var metricsJSON []byte
	var cachedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT metrics, cached_at FROM journal_metrics WHERE journal = $1`,
		journal,
	).Scan(&metricsJSON, &cachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get journal metrics %s", journal)
	}
	if maxAge > 0 && time.Since(cachedAt) > maxAge {
		return nil, false, nil
	}

	var metrics map[string]string
	if err := json.Unmarshal(metricsJSON, &metrics); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal journal metrics")
	}
	return metrics, true, nil
}

func (s *PostgresStore) PutJournalMetrics(ctx context.Context, journal string, metrics map[string]string) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal journal metrics")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO journal_metrics (journal, metrics, cached_at) VALUES ($1, $2, $3)
			ON CONFLICT (journal) DO UPDATE SET metrics = EXCLUDED.metrics, cached_at = EXCLUDED.cached_at`,
		journal, string(metricsJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put journal metrics %s", journal)
}

// scanPgRun mirrors scanRun for pgx's scan signature, where sources arrives
// as raw JSONB bytes.
func scanPgRun(scan func(dest ...any) error) (*Run, error) {
	var (
		r           Run
		sourcesJSON []byte
		status      string
		outputPath  *string
		errMsg      *string
		finishedAt  *time.Time
	)
	err := scan(&r.ID, &sourcesJSON, &status, &r.ParsedRecords, &r.DedupedRecords,
		&r.FailedRecords, &outputPath, &errMsg, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(sourcesJSON, &r.Sources); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal sources")
	}
	r.Status = RunStatus(status)
	if outputPath != nil {
		r.OutputPath = *outputPath
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	r.FinishedAt = finishedAt
	return &r, nil
}
