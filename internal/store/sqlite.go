package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, ttl time.Duration) (*SQLiteLedger, error) {
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db, ttl: ttl, now: time.Now}, nil
}

// Timestamps are unix nanoseconds so ordering and expiry compare as integers.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS alert_claims (
	username   TEXT NOT NULL,
	day        TEXT NOT NULL,
	claimed_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (username, day)
);

CREATE TABLE IF NOT EXISTS notifications (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	day      TEXT NOT NULL,
	channel  TEXT NOT NULL,
	status   TEXT NOT NULL,
	error    TEXT NOT NULL DEFAULT '',
	sent_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_claims_expires_at ON alert_claims(expires_at);
CREATE INDEX IF NOT EXISTS idx_notifications_username ON notifications(username, sent_at);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) Claim(ctx context.Context, username, day string) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_claims (username, day, claimed_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (username, day) DO UPDATE SET claimed_at = excluded.claimed_at, expires_at = excluded.expires_at
		WHERE alert_claims.expires_at <= excluded.claimed_at`,
		username, day, now.UnixNano(), now.Add(s.ttl).UnixNano(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim %s/%s", username, day)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteLedger) Release(ctx context.Context, username, day string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_claims WHERE username = ? AND day = ?`, username, day)
	return eris.Wrapf(err, "sqlite: release %s/%s", username, day)
}

func (s *SQLiteLedger) RecordNotification(ctx context.Context, n Notification) error {
	n = prepare(n, s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, username, day, channel, status, error, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Username, n.Day, n.Channel, string(n.Status), n.Error, n.SentAt.UnixNano(),
	)
	return eris.Wrap(err, "sqlite: insert notification")
}

func (s *SQLiteLedger) Notifications(ctx context.Context, username string, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, day, channel, status, error, sent_at FROM notifications
		WHERE username = ? ORDER BY sent_at DESC LIMIT ?`,
		username, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list notifications")
	}
	defer rows.Close() //nolint:errcheck

	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			status string
			sentAt int64
		)
		if err := rows.Scan(&n.ID, &n.Username, &n.Day, &n.Channel, &status, &n.Error, &sentAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan notification")
		}
		n.Status = NotificationStatus(status)
		n.SentAt = time.Unix(0, sentAt).UTC()
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate notifications")
}
