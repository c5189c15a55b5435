package store

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryLedger keeps claims in process memory. Claims do not survive a
// restart, which is enough for a single long-running watch process.
type MemoryLedger struct {
	claims        *xsync.Map[string, time.Time]
	notifications *xsync.Map[string, Notification]
	ttl           time.Duration
	now           func() time.Time
}

// NewMemory creates an in-memory ledger whose claims expire after ttl.
func NewMemory(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		claims:        xsync.NewMap[string, time.Time](),
		notifications: xsync.NewMap[string, Notification](),
		ttl:           ttl,
		now:           time.Now,
	}
}

func claimKey(username, day string) string {
	return username + "/" + day
}

func (m *MemoryLedger) Claim(_ context.Context, username, day string) (bool, error) {
	now := m.now()
	claimed := false
	m.claims.Compute(claimKey(username, day), func(old time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && now.Sub(old) < m.ttl {
			return old, xsync.CancelOp
		}
		claimed = true
		return now, xsync.UpdateOp
	})
	return claimed, nil
}

func (m *MemoryLedger) Release(_ context.Context, username, day string) error {
	m.claims.Delete(claimKey(username, day))
	return nil
}

func (m *MemoryLedger) RecordNotification(_ context.Context, n Notification) error {
	n = prepare(n, m.now())
	m.notifications.Store(n.ID, n)
	return nil
}

func (m *MemoryLedger) Notifications(_ context.Context, username string, limit int) ([]Notification, error) {
	var out []Notification
	m.notifications.Range(func(_ string, n Notification) bool {
		if n.Username == username {
			out = append(out, n)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) Migrate(context.Context) error { return nil }

func (m *MemoryLedger) Close() error { return nil }
