package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/streakwatch/internal/config"
	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/monitoring"
	"github.com/sells-group/streakwatch/internal/store"
)

type fixedRunner struct {
	outcome model.Outcome
}

func (r fixedRunner) Run(context.Context) model.Outcome {
	return r.outcome
}

func newTestWatcher(t *testing.T, o model.Outcome) (*monitoring.Watcher, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	w, err := monitoring.NewWatcher(fixedRunner{outcome: o}, metrics, config.WatchConfig{
		Schedule:       "0 0 */1 * * *",
		RunTimeoutSecs: 5,
	})
	require.NoError(t, err)
	return w, metrics
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	w, m := newTestWatcher(t, model.SuccessOutcome(3))
	rr := serve(t, buildRouter(w, m, nil, "octocat"), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_HealthPingsLedger(t *testing.T) {
	w, m := newTestWatcher(t, model.SuccessOutcome(3))
	ledger, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"), store.DefaultClaimTTL)
	require.NoError(t, err)

	router := buildRouter(w, m, ledger, "octocat")
	assert.Equal(t, http.StatusOK, serve(t, router, "/health").Code)

	require.NoError(t, ledger.Close())
	rr := serve(t, router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["ledger"])
}

func TestBuildRouter_HealthWithMemoryLedger(t *testing.T) {
	w, m := newTestWatcher(t, model.SuccessOutcome(3))
	rr := serve(t, buildRouter(w, m, store.NewMemory(store.DefaultClaimTTL), "octocat"), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNewWatchMetrics_RuntimeCollectors(t *testing.T) {
	w, _ := newTestWatcher(t, model.SuccessOutcome(3))
	m := newWatchMetrics()

	rr := serve(t, buildRouter(w, m, nil, "octocat"), "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
	assert.Contains(t, rr.Body.String(), "streakwatch_monitor_minutes_remaining")
}

func TestBuildRouter_Metrics(t *testing.T) {
	w, m := newTestWatcher(t, model.SuccessOutcome(3))
	w.RunOnce(context.Background())

	rr := serve(t, buildRouter(w, m, nil, "octocat"), "/metrics")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `streakwatch_monitor_runs_total{status="success"} 1`)
}

func TestBuildRouter_StatusBeforeFirstRun(t *testing.T) {
	w, m := newTestWatcher(t, model.SuccessOutcome(3))
	rr := serve(t, buildRouter(w, m, nil, "octocat"), "/status")

	require.Equal(t, http.StatusOK, rr.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "octocat", body.Username)
	assert.Equal(t, int64(0), body.Runs)
	assert.Nil(t, body.Last)
	assert.Empty(t, body.Notifications)
	assert.True(t, body.NextRun.After(time.Now().Add(-time.Second)))
}

func TestBuildRouter_StatusWithLedger(t *testing.T) {
	o := model.AlertSentOutcome(model.Remaining{Hours: 3, Minutes: 12})
	o.Username = "octocat"
	o.Day = "2024-05-17"
	w, m := newTestWatcher(t, o)
	w.RunOnce(context.Background())

	ledger := store.NewMemory(store.DefaultClaimTTL)
	require.NoError(t, ledger.RecordNotification(context.Background(), store.Notification{
		Username: "octocat",
		Day:      "2024-05-17",
		Status:   store.NotificationSent,
	}))

	rr := serve(t, buildRouter(w, m, ledger, "octocat"), "/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Runs)
	require.NotNil(t, body.Last)
	assert.Equal(t, model.OutcomeAlertSent, body.Last.Status)
	require.NotNil(t, body.Last.Remaining)
	assert.Equal(t, 3, body.Last.Remaining.Hours)

	require.Len(t, body.Notifications, 1)
	assert.Equal(t, "2024-05-17", body.Notifications[0].Day)
	assert.Equal(t, store.ChannelDiscord, body.Notifications[0].Channel)
}

func TestBuildRouter_UnknownRoute(t *testing.T) {
	w, m := newTestWatcher(t, model.SuccessOutcome(1))
	rr := serve(t, buildRouter(w, m, nil, "octocat"), "/webhook")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
