package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the ledger uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewPostgres creates a PostgresLedger with a small connection pool.
func NewPostgres(ctx context.Context, connString string, ttl time.Duration) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// One run issues a handful of statements; keep the pool small.
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
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
	return &PostgresLedger{pool: pool, ttl: ttl, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS alert_claims (
	username   TEXT NOT NULL,
	day        TEXT NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (username, day)
);

CREATE TABLE IF NOT EXISTS notifications (
	id       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	username TEXT NOT NULL,
	day      TEXT NOT NULL,
	channel  TEXT NOT NULL,
	status   TEXT NOT NULL,
	error    TEXT NOT NULL DEFAULT '',
	sent_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alert_claims_expires_at ON alert_claims(expires_at);
CREATE INDEX IF NOT EXISTS idx_notifications_username ON notifications(username, sent_at DESC);
`

func (s *PostgresLedger) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresLedger) Claim(ctx context.Context, username, day string) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alert_claims (username, day, claimed_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (username, day) DO UPDATE SET claimed_at = EXCLUDED.claimed_at, expires_at = EXCLUDED.expires_at
		WHERE alert_claims.expires_at <= EXCLUDED.claimed_at`,
		username, day, now, now.Add(s.ttl),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim %s/%s", username, day)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresLedger) Release(ctx context.Context, username, day string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM alert_claims WHERE username = $1 AND day = $2`, username, day)
	return eris.Wrapf(err, "postgres: release %s/%s", username, day)
}

func (s *PostgresLedger) RecordNotification(ctx context.Context, n Notification) error {
	n = prepare(n, s.now())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, username, day, channel, status, error, sent_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.Username, n.Day, n.Channel, string(n.Status), n.Error, n.SentAt,
	)
	return eris.Wrap(err, "postgres: insert notification")
}

func (s *PostgresLedger) Notifications(ctx context.Context, username string, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, day, channel, status, error, sent_at FROM notifications
		WHERE username = $1 ORDER BY sent_at DESC LIMIT $2`,
		username, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list notifications")
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			status string
		)
		if err := rows.Scan(&n.ID, &n.Username, &n.Day, &n.Channel, &status, &n.Error, &n.SentAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan notification")
		}
		n.Status = NotificationStatus(status)
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate notifications")
}
