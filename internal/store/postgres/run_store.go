// Package postgres persists run history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "pipeline_runs"

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements pipeline.RunStore.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the runs table if it is missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	dag_id text NOT NULL,
	logical_date timestamptz NOT NULL,
	state text NOT NULL,
	task text NOT NULL DEFAULT '',
	attempts jsonb NOT NULL DEFAULT '{}',
	records integer NOT NULL DEFAULT 0,
	artifact jsonb,
	error_text text NOT NULL DEFAULT '',
	started_at timestamptz NOT NULL,
	finished_at timestamptz
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// SaveRun upserts the run row keyed by ID.
func (s *RunStore) SaveRun(ctx context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	attempts := run.Attempts
	if attempts == nil {
		attempts = map[string]int{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	var artifactJSON []byte
	if run.Artifact != nil {
		if artifactJSON, err = json.Marshal(run.Artifact); err != nil {
			return fmt.Errorf("marshal artifact: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	dag_id,
	logical_date,
	state,
	task,
	attempts,
	records,
	artifact,
	error_text,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	task = EXCLUDED.task,
	attempts = EXCLUDED.attempts,
	records = EXCLUDED.records,
	artifact = EXCLUDED.artifact,
	error_text = EXCLUDED.error_text,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		run.ID,
		run.DAGID,
		run.LogicalDate,
		string(run.State),
		run.Task,
		attemptsJSON,
		run.Records,
		artifactJSON,
		run.ErrorText,
		run.Started,
		run.Finished,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

const selectColumns = `id, dag_id, logical_date, state, task, attempts, records, artifact, error_text, started_at, finished_at`

// GetRun returns store.ErrRunNotFound when no row matches.
func (s *RunStore) GetRun(ctx context.Context, id string) (pipeline.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Run{}, store.ErrRunNotFound
	}
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC, id DESC LIMIT $1`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]pipeline.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (pipeline.Run, error) {
	var (
		run          pipeline.Run
		state        string
		attemptsJSON []byte
		artifactJSON []byte
		finished     *time.Time
	)
	if err := row.Scan(
		&run.ID,
		&run.DAGID,
		&run.LogicalDate,
		&state,
		&run.Task,
		&attemptsJSON,
		&run.Records,
		&artifactJSON,
		&run.ErrorText,
		&run.Started,
		&finished,
	); err != nil {
		return pipeline.Run{}, err
	}
	run.State = pipeline.State(state)
	run.Finished = finished
	run.Attempts = map[string]int{}
	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &run.Attempts); err != nil {
			return pipeline.Run{}, fmt.Errorf("decode attempts: %w", err)
		}
	}
	if len(artifactJSON) > 0 {
		var art pipeline.Artifact
		if err := json.Unmarshal(artifactJSON, &art); err != nil {
			return pipeline.Run{}, fmt.Errorf("decode artifact: %w", err)
		}
		run.Artifact = &art
	}
	return run, nil
}
