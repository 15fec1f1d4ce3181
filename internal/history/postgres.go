package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_history (
			call_id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			text TEXT NOT NULL,
			state TEXT NOT NULL,
			replies TEXT[] NOT NULL DEFAULT '{}',
			digits TEXT[] NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_target_ended ON call_history (target, ended_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	if record.Replies == nil {
		record.Replies = []string{}
	}
	if record.Digits == nil {
		record.Digits = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_history (call_id, target, text, state, replies, digits, error, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (call_id) DO UPDATE SET state = EXCLUDED.state, replies = EXCLUDED.replies,
		   digits = EXCLUDED.digits, error = EXCLUDED.error, ended_at = EXCLUDED.ended_at`,
		record.CallID,
		record.Target,
		record.Text,
		record.State,
		record.Replies,
		record.Digits,
		record.Error,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save call %s: %w", record.CallID, err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, target string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT call_id, target, text, state, replies, digits, error, started_at, ended_at
		 FROM call_history WHERE ($1 = '' OR target = $1) ORDER BY ended_at DESC LIMIT $2`,
		target,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.CallID, &r.Target, &r.Text, &r.State, &r.Replies, &r.Digits, &r.Error, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan call history row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call history rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
