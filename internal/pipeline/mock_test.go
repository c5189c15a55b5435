package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/streakwatch/internal/monitoring"
	"github.com/sells-group/streakwatch/internal/store"
	"github.com/sells-group/streakwatch/internal/window"
	"github.com/sells-group/streakwatch/pkg/github"
)

// --- Querier Mock ---

type mockQuerier struct {
	mock.Mock
}

func (m *mockQuerier) ContributionCount(ctx context.Context, w window.Window, creds github.Credentials) (github.Count, error) {
	args := m.Called(ctx, w, creds)
	return args.Get(0).(github.Count), args.Error(1)
}

func (m *mockQuerier) CurrentStreak(ctx context.Context, now time.Time, creds github.Credentials) (int, error) {
	args := m.Called(ctx, now, creds)
	return args.Int(0), args.Error(1)
}

// --- Dispatcher Mock ---

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, alert monitoring.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// --- Ledger Mock ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Claim(ctx context.Context, username, day string) (bool, error) {
	args := m.Called(ctx, username, day)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Release(ctx context.Context, username, day string) error {
	args := m.Called(ctx, username, day)
	return args.Error(0)
}

func (m *mockLedger) RecordNotification(ctx context.Context, n store.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *mockLedger) Notifications(ctx context.Context, username string, limit int) ([]store.Notification, error) {
	args := m.Called(ctx, username, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Notification), args.Error(1)
}

func (m *mockLedger) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLedger) Close() error {
	return m.Called().Error(0)
}
