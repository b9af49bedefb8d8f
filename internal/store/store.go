package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/results"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the history tables. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS gateway_runs (
    id           UUID PRIMARY KEY,
    site         TEXT NOT NULL,
    team         TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    attempts     INT NOT NULL,
    complete     BOOLEAN NOT NULL,
    succeeded    INT NOT NULL,
    failed       INT NOT NULL,
    unknown      INT NOT NULL,
    not_reached  INT NOT NULL
);
CREATE TABLE IF NOT EXISTS gateway_results (
    run_id       UUID NOT NULL REFERENCES gateway_runs(id) ON DELETE CASCADE,
    site         TEXT NOT NULL,
    option       TEXT NOT NULL,
    method       TEXT NOT NULL,
    channel      TEXT NOT NULL,
    bank         TEXT NOT NULL,
    verdict      TEXT NOT NULL,
    reason       TEXT NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS gateway_results_site_observed_idx ON gateway_results (site, observed_at DESC);
`

var resultColumns = []string{"run_id", "site", "option", "method", "channel", "bank", "verdict", "reason", "observed_at"}

// RunMeta describes one site run.
type RunMeta struct {
	ID         string
	Site       string
	Team       string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempts   int
	Complete   bool
}

// HistoryRow is one stored combination outcome.
type HistoryRow struct {
	RunID      string
	Site       string
	Option     string
	Method     string
	Channel    string
	Bank       string
	Verdict    string
	Reason     string
	ObservedAt time.Time
}

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun stores the run and its records in one transaction.
func (s *Store) SaveRun(ctx context.Context, run RunMeta, sum results.Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
        INSERT INTO gateway_runs (id, site, team, started_at, finished_at, attempts, complete, succeeded, failed, unknown, not_reached)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Site, run.Team, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Attempts, run.Complete,
		len(sum.Succeeded), len(sum.Failed), len(sum.Unknown), len(sum.NotReached),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if err := s.persistResults(ctx, tx, run, sum); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run history saved.", zap.String("run_id", run.ID), zap.String("site", run.Site), zap.Int("records", sum.Total()))
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, run RunMeta, sum results.Summary) error {
	records := make([]results.Record, 0, sum.Total())
	records = append(records, sum.Succeeded...)
	records = append(records, sum.Failed...)
	records = append(records, sum.Unknown...)
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		c := r.Combination
		rows[i] = []any{
			run.ID, run.Site,
			c.Option, c.Method, c.Channel, c.Bank,
			r.Result.Verdict.String(), r.Result.Reason,
			r.Timestamp.UTC(),
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"gateway_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy results: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(records), n)
	}
	return nil
}

// RecentResults returns the latest stored outcomes of a site, newest first.
func (s *Store) RecentResults(ctx context.Context, site string, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT run_id, site, option, method, channel, bank, verdict, reason, observed_at
        FROM gateway_results
        WHERE site = $1
        ORDER BY observed_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, site, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.RunID, &h.Site, &h.Option, &h.Method, &h.Channel, &h.Bank, &h.Verdict, &h.Reason, &h.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
