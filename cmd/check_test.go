package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/streakwatch/internal/config"
	"github.com/sells-group/streakwatch/internal/model"
)

const testUserAgent = "streakwatch-test/1.0"

// fakeAPIs runs a GraphQL endpoint reporting total contributions and a
// webhook endpoint answering with webhookStatus.
type fakeAPIs struct {
	github  *httptest.Server
	discord *httptest.Server

	queries    atomic.Int32
	deliveries atomic.Int32
}

func newFakeAPIs(t *testing.T, total int, githubStatus, webhookStatus int) *fakeAPIs {
	t.Helper()
	f := &fakeAPIs{}

	f.github = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.queries.Add(1)
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "bearer ghp_test", r.Header.Get("Authorization"))
		if githubStatus != http.StatusOK {
			w.WriteHeader(githubStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"user": map[string]any{
					"contributionsCollection": map[string]any{
						"contributionCalendar": map[string]any{"totalContributions": total},
					},
				},
			},
		})
	}))
	t.Cleanup(f.github.Close)

	f.discord = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.deliveries.Add(1)
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Streaky Bot", body["username"])
		w.WriteHeader(webhookStatus)
	}))
	t.Cleanup(f.discord.Close)

	return f
}

func testConfig(f *fakeAPIs) *config.Config {
	return &config.Config{
		GitHub: config.GitHubConfig{
			Username: "octocat",
			Token:    "ghp_test",
			Endpoint: f.github.URL,
		},
		Discord: config.DiscordConfig{
			WebhookURL: f.discord.URL + "/api/webhooks/1/abc",
			BotName:    "Streaky Bot",
			Color:      15158332,
		},
		Watch: config.WatchConfig{
			Schedule:       "0 0 */1 * * *",
			RunTimeoutSecs: 5,
		},
		Store: config.StoreConfig{Driver: "none", ClaimTTLHours: 48},
		HTTP: config.HTTPConfig{
			TimeoutSecs:         5,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeoutSecs: 30,
			UserAgent:           testUserAgent,
		},
		Retry: config.RetryConfig{MaxAttempts: 1},
		Log:   config.LogConfig{Level: "info", Format: "json"},
	}
}

func testCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	return cmd
}

func TestRunCheck_ZeroContributionsSendsAlert(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusOK, http.StatusNoContent)

	outcome, err := runCheck(testCommand(&bytes.Buffer{}), testConfig(f))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeAlertSent, outcome.Status)
	assert.Equal(t, "octocat", outcome.Username)
	require.NotNil(t, outcome.Remaining)
	assert.Equal(t, int32(1), f.queries.Load())
	assert.Equal(t, int32(1), f.deliveries.Load())
}

func TestRunCheck_ContributionsFound(t *testing.T) {
	f := newFakeAPIs(t, 5, http.StatusOK, http.StatusNoContent)

	outcome, err := runCheck(testCommand(&bytes.Buffer{}), testConfig(f))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSuccess, outcome.Status)
	assert.Equal(t, 5, outcome.Count)
	assert.Nil(t, outcome.Remaining)
	assert.Equal(t, int32(0), f.deliveries.Load())
}

func TestRunCheck_InvalidConfigMakesNoRequests(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusOK, http.StatusNoContent)
	c := testConfig(f)
	c.GitHub.Token = ""

	outcome, err := runCheck(testCommand(&bytes.Buffer{}), c)
	require.NoError(t, err)

	require.NotNil(t, outcome.Failure)
	assert.Equal(t, model.FailureConfigMissing, outcome.Failure.Kind)
	assert.Contains(t, outcome.Failure.Detail, "github.token")
	assert.Equal(t, int32(0), f.queries.Load())
	assert.Equal(t, int32(0), f.deliveries.Load())
}

func TestRunCheck_MemoryLedgerSuppressesSecondAlert(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusOK, http.StatusNoContent)
	c := testConfig(f)
	c.Store.Driver = "memory"

	env, err := initMonitor(context.Background(), c)
	require.NoError(t, err)
	defer env.Close()

	first := env.Pipeline.Run(context.Background())
	second := env.Pipeline.Run(context.Background())

	assert.Equal(t, model.OutcomeAlertSent, first.Status)
	assert.Equal(t, model.OutcomeAlertSuppressed, second.Status)
	assert.Equal(t, int32(1), f.deliveries.Load())

	ns, err := env.Ledger.Notifications(context.Background(), "octocat", 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, first.Day, ns[0].Day)
}

func TestInitMonitor_SharesOnePoolAcrossRuns(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusOK, http.StatusNoContent)

	env, err := initMonitor(context.Background(), testConfig(f))
	require.NoError(t, err)
	defer env.Close()

	assert.Same(t, env.Pool, env.GitHub.Doer())
	assert.Same(t, env.Pool, env.Discord.Doer())
	assert.Equal(t, 5*time.Second, env.Pool.Timeout())

	for i := 0; i < 2; i++ {
		o := env.Pipeline.Run(context.Background())
		assert.Equal(t, model.OutcomeAlertSent, o.Status)
		assert.Same(t, env.Pool, env.GitHub.Doer())
		assert.Same(t, env.Pool, env.Discord.Doer())
	}

	// newFakeAPIs asserts the pool's User-Agent on every request it serves.
	assert.Equal(t, int32(2), f.queries.Load())
	assert.Equal(t, int32(2), f.deliveries.Load())
}

func TestInitMonitor_OptionalComponents(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusOK, http.StatusNoContent)

	t.Run("disabled", func(t *testing.T) {
		env, err := initMonitor(context.Background(), testConfig(f))
		require.NoError(t, err)
		defer env.Close()

		assert.Nil(t, env.Ledger)
		assert.Nil(t, env.Breaker)
	})

	t.Run("enabled", func(t *testing.T) {
		c := testConfig(f)
		c.Store.Driver = "memory"
		c.Circuit = config.CircuitConfig{FailureThreshold: 3, ResetTimeoutSecs: 60}

		env, err := initMonitor(context.Background(), c)
		require.NoError(t, err)
		defer env.Close()

		assert.NotNil(t, env.Ledger)
		assert.NotNil(t, env.Breaker)
	})

	t.Run("unknown driver", func(t *testing.T) {
		c := testConfig(f)
		c.Store.Driver = "etcd"

		_, err := initMonitor(context.Background(), c)
		assert.Error(t, err)
	})
}

func TestCheckCommand_FailureExitsNonZero(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusUnauthorized, http.StatusNoContent)

	prev := cfg
	cfg = testConfig(f)
	t.Cleanup(func() { cfg = prev })

	var out bytes.Buffer
	checkCmd.SetContext(context.Background())
	checkCmd.SetOut(&out)
	t.Cleanup(func() { checkCmd.SetOut(nil) })

	err := checkCmd.RunE(checkCmd, nil)
	assert.True(t, errors.Is(err, errRunFailed))
	assert.Equal(t, int32(0), f.deliveries.Load())

	var printed model.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, model.OutcomeFailure, printed.Status)
	require.NotNil(t, printed.Failure)
	assert.Equal(t, model.FailureRemoteRejected, printed.Failure.Kind)
	assert.Equal(t, http.StatusUnauthorized, printed.Failure.StatusCode)
}

func TestCheckCommand_AlertExitsZero(t *testing.T) {
	f := newFakeAPIs(t, 0, http.StatusOK, http.StatusOK)

	prev := cfg
	cfg = testConfig(f)
	t.Cleanup(func() { cfg = prev })

	var out bytes.Buffer
	checkCmd.SetContext(context.Background())
	checkCmd.SetOut(&out)
	t.Cleanup(func() { checkCmd.SetOut(nil) })

	require.NoError(t, checkCmd.RunE(checkCmd, nil))
	assert.Contains(t, out.String(), `"status": "alert_sent"`)
}
