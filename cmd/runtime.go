package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/streakwatch/internal/config"
	"github.com/sells-group/streakwatch/internal/connpool"
	"github.com/sells-group/streakwatch/internal/monitoring"
	"github.com/sells-group/streakwatch/internal/pipeline"
	"github.com/sells-group/streakwatch/internal/resilience"
	"github.com/sells-group/streakwatch/internal/store"
	"github.com/sells-group/streakwatch/pkg/discord"
	"github.com/sells-group/streakwatch/pkg/github"
)

// monitorEnv holds the process-wide connection pool, both API clients, the
// optional ledger and the pipeline built on top of them.
type monitorEnv struct {
	Pool     *connpool.Manager
	GitHub   *github.Client
	Discord  *discord.Client
	Ledger   store.Ledger // nil when the store driver is "none"
	Breaker  *resilience.CircuitBreaker
	Pipeline *pipeline.Pipeline
}

// Close releases the ledger and idle pooled connections.
func (e *monitorEnv) Close() {
	if e.Ledger != nil {
		if err := e.Ledger.Close(); err != nil {
			zap.L().Warn("close ledger", zap.Error(err))
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initMonitor builds every dependency of a monitor run from c. The single
// connpool.Manager created here is shared by the GitHub and Discord clients
// for the life of the process. Callers should defer env.Close().
func initMonitor(ctx context.Context, c *config.Config) (*monitorEnv, error) {
	pool := connpool.New(connpool.Options{
		Timeout:             time.Duration(c.HTTP.TimeoutSecs) * time.Second,
		MaxIdleConnsPerHost: c.HTTP.MaxIdleConnsPerHost,
		IdleConnTimeout:     time.Duration(c.HTTP.IdleConnTimeoutSecs) * time.Second,
		UserAgent:           c.HTTP.UserAgent,
	})

	ghOpts := []github.Option{github.WithEndpoint(c.GitHub.Endpoint)}
	if c.GitHub.RateLimit > 0 {
		burst := c.GitHub.RateBurst
		if burst < 1 {
			burst = 1
		}
		ghOpts = append(ghOpts, github.WithRateLimiter(rate.NewLimiter(rate.Limit(c.GitHub.RateLimit), burst)))
	}
	ghClient := github.NewClient(pool, ghOpts...)
	dcClient := discord.NewClient(pool)

	ledger, err := store.Open(ctx, c.Store)
	if err != nil {
		pool.Close()
		return nil, eris.Wrapf(err, "open %s store", c.Store.Driver)
	}

	env := &monitorEnv{
		Pool:    pool,
		GitHub:  ghClient,
		Discord: dcClient,
		Ledger:  ledger,
	}

	opts := []pipeline.Option{
		pipeline.WithRetry(resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)),
		pipeline.WithStreak(c.GitHub.FetchStreak),
	}
	if ledger != nil {
		opts = append(opts, pipeline.WithLedger(ledger))
	}
	if c.Circuit.FailureThreshold > 0 {
		env.Breaker = resilience.NewCircuitBreaker(resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs))
		opts = append(opts, pipeline.WithCircuitBreaker(env.Breaker))
	}

	creds := github.Credentials{Username: c.GitHub.Username, Token: c.GitHub.Token}
	env.Pipeline = pipeline.New(creds, ghClient, monitoring.NewAlerter(dcClient, c.Discord), opts...)

	zap.L().Debug("monitor initialized",
		zap.String("username", c.GitHub.Username),
		zap.String("store", c.Store.Driver),
		zap.Duration("http_timeout", pool.Timeout()),
		zap.Bool("circuit_breaker", env.Breaker != nil),
	)
	return env, nil
}
