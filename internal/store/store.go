// Package store persists the per-user, per-day alert marker and the
// notification log. It never stores contribution counts.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/streakwatch/internal/config"
)

// NotificationStatus is the result of a single dispatch attempt.
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// ChannelDiscord identifies the Discord webhook channel.
const ChannelDiscord = "discord"

// DefaultClaimTTL is how long a claim is honored when none is configured.
const DefaultClaimTTL = 48 * time.Hour

// Notification is one entry in the dispatch log.
type Notification struct {
	ID       string             `json:"id"`
	Username string             `json:"username"`
	Day      string             `json:"day"`
	Channel  string             `json:"channel"`
	Status   NotificationStatus `json:"status"`
	Error    string             `json:"error,omitempty"`
	SentAt   time.Time          `json:"sent_at"`
}

// Ledger records which (user, day) pairs have been alerted so a day is
// alerted at most once, and keeps a log of dispatch attempts.
type Ledger interface {
	// Claim marks (username, day) as alerted. It returns false if the pair
	// was already claimed and the claim has not expired.
	Claim(ctx context.Context, username, day string) (bool, error)
	// Release removes a claim so a later run can alert again.
	Release(ctx context.Context, username, day string) error
	RecordNotification(ctx context.Context, n Notification) error
	// Notifications returns the most recent entries for username, newest first.
	Notifications(ctx context.Context, username string, limit int) ([]Notification, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Pinger is implemented by ledgers backed by a remote server or database
// file whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open creates the ledger selected by cfg and applies its migration.
// The "none" driver returns a nil Ledger.
func Open(ctx context.Context, cfg config.StoreConfig) (Ledger, error) {
	ttl := time.Duration(cfg.ClaimTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}

	var (
		l   Ledger
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		l = NewMemory(ttl)
	case "sqlite":
		l, err = NewSQLite(cfg.DatabaseURL, ttl)
	case "postgres":
		l, err = NewPostgres(ctx, cfg.DatabaseURL, ttl)
	case "redis":
		l, err = NewRedis(ctx, cfg.DatabaseURL, ttl)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := l.Migrate(ctx); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// prepare fills in the generated fields of a notification.
func prepare(n Notification, now time.Time) Notification {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.SentAt.IsZero() {
		n.SentAt = now
	}
	if n.Channel == "" {
		n.Channel = ChannelDiscord
	}
	n.SentAt = n.SentAt.UTC()
	return n
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxNotifications {
		return maxNotifications
	}
	return limit
}

// maxNotifications bounds listing and the redis log length.
const maxNotifications = 100
