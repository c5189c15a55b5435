// Package pipeline runs a single contribution check: compute the UTC day
// window, query the day's contribution count and alert when it is zero.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/monitoring"
	"github.com/sells-group/streakwatch/internal/resilience"
	"github.com/sells-group/streakwatch/internal/store"
	"github.com/sells-group/streakwatch/internal/window"
	"github.com/sells-group/streakwatch/pkg/github"
)

// Querier reads contribution activity for a user.
type Querier interface {
	ContributionCount(ctx context.Context, w window.Window, creds github.Credentials) (github.Count, error)
	CurrentStreak(ctx context.Context, now time.Time, creds github.Credentials) (int, error)
}

// Dispatcher delivers a zero-contribution alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert monitoring.Alert) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLedger enables once-per-day alert deduplication and the notification log.
func WithLedger(l store.Ledger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithCircuitBreaker guards contribution queries with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) {
		p.breaker = cb
	}
}

// WithRetry sets the query retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) {
		p.retry = cfg
	}
}

// WithStreak controls whether the current streak is looked up for alerts.
func WithStreak(enabled bool) Option {
	return func(p *Pipeline) {
		p.fetchStreak = enabled
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline is the monitor workflow. It holds no per-run state, so one
// Pipeline can serve any number of sequential runs.
type Pipeline struct {
	creds       github.Credentials
	querier     Querier
	dispatcher  Dispatcher
	ledger      store.Ledger
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	fetchStreak bool
	now         func() time.Time
}

// New creates a Pipeline for the user identified by creds.
func New(creds github.Credentials, querier Querier, dispatcher Dispatcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		creds:      creds,
		querier:    querier,
		dispatcher: dispatcher,
		retry:      resilience.DefaultRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.retry.ShouldRetry == nil {
		p.retry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen) && resilience.IsTransient(err)
		}
	}
	if p.retry.OnRetry == nil {
		p.retry.OnRetry = resilience.RetryLogger("github", "contribution_count")
	}
	return p
}

// Run performs one check and reports its Outcome. It never returns an error;
// every failure is carried in the Outcome.
func (p *Pipeline) Run(ctx context.Context) model.Outcome {
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("username", p.creds.Username),
	)

	// Computing window.
	startedAt := p.now()
	w := window.Current(startedAt)
	day := w.Key()
	log = log.With(zap.String("day", day))

	finish := func(o model.Outcome) model.Outcome {
		o.Username = p.creds.Username
		o.Day = day
		o.CheckedAt = startedAt.UTC()
		p.logOutcome(log, o, time.Since(startedAt))
		return o
	}

	// Querying.
	count, err := p.query(ctx, w)
	if err != nil {
		return finish(failureOutcome(ctx, err))
	}

	// Deciding.
	if count.Total > 0 {
		return finish(model.SuccessOutcome(count.Total))
	}

	// Dispatching. Remaining time is taken at the moment of the decision.
	// Remaining time always counts down the queried day, even if the
	// decision falls after it ended.
	decidedAt := p.now()
	remaining := w.RemainingAt(decidedAt)
	if !w.Contains(decidedAt) {
		log.Warn("pipeline: queried day ended before the decision", zap.Time("decided_at", decidedAt.UTC()))
	}

	claimed := false
	if p.ledger != nil {
		ok, err := p.ledger.Claim(ctx, p.creds.Username, day)
		switch {
		case err != nil:
			// A broken ledger must not swallow the alert.
			log.Warn("pipeline: ledger claim failed, dispatching anyway", zap.Error(err))
		case !ok:
			return finish(model.AlertSuppressedOutcome(remaining))
		default:
			claimed = true
		}
	}

	streak := p.streak(ctx, decidedAt, log)

	err = p.dispatcher.Dispatch(ctx, monitoring.Alert{
		Username:  p.creds.Username,
		Now:       decidedAt,
		Remaining: remaining,
		Streak:    streak,
	})
	p.record(ctx, day, err, log)

	if err != nil {
		if claimed {
			if relErr := p.ledger.Release(context.WithoutCancel(ctx), p.creds.Username, day); relErr != nil {
				log.Error("pipeline: failed to release claim", zap.Error(relErr))
			}
		}
		return finish(failureOutcome(ctx, err))
	}

	o := model.AlertSentOutcome(remaining)
	o.Streak = streak
	return finish(o)
}

// query fetches the count through the breaker (if any) with retries.
func (p *Pipeline) query(ctx context.Context, w window.Window) (github.Count, error) {
	fn := func(ctx context.Context) (github.Count, error) {
		return p.querier.ContributionCount(ctx, w, p.creds)
	}
	if p.breaker != nil {
		call := fn
		fn = func(ctx context.Context) (github.Count, error) {
			return resilience.ExecuteVal(ctx, p.breaker, call)
		}
	}
	return resilience.DoVal(ctx, p.retry, fn)
}

// streak looks up the current streak for the alert body. Failures only
// drop the field.
func (p *Pipeline) streak(ctx context.Context, now time.Time, log *zap.Logger) *int {
	if !p.fetchStreak {
		return nil
	}
	n, err := p.querier.CurrentStreak(ctx, now, p.creds)
	if err != nil {
		log.Warn("pipeline: streak lookup failed", zap.Error(err))
		return nil
	}
	return &n
}

// record appends the dispatch attempt to the notification log.
func (p *Pipeline) record(ctx context.Context, day string, dispatchErr error, log *zap.Logger) {
	if p.ledger == nil {
		return
	}
	n := store.Notification{
		Username: p.creds.Username,
		Day:      day,
		Channel:  store.ChannelDiscord,
		Status:   store.NotificationSent,
	}
	if dispatchErr != nil {
		n.Status = store.NotificationFailed
		n.Error = dispatchErr.Error()
	}
	if err := p.ledger.RecordNotification(context.WithoutCancel(ctx), n); err != nil {
		log.Warn("pipeline: failed to record notification", zap.Error(err))
	}
}

func (p *Pipeline) logOutcome(log *zap.Logger, o model.Outcome, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("status", string(o.Status)),
		zap.Int("count", o.Count),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if o.Remaining != nil {
		fields = append(fields, zap.Int("hours_remaining", o.Remaining.Hours), zap.Int("minutes_remaining", o.Remaining.Minutes))
	}
	if o.Failure != nil {
		log.Error("pipeline: run failed", append(fields,
			zap.String("kind", string(o.Failure.Kind)),
			zap.String("detail", o.Failure.Detail),
		)...)
		return
	}
	log.Info("pipeline: run complete", fields...)
}

// failureOutcome classifies err, reporting caller cancellation as Canceled
// whatever the component saw.
func failureOutcome(ctx context.Context, err error) model.Outcome {
	if errors.Is(ctx.Err(), context.Canceled) && !model.IsKind(err, model.FailureCanceled) {
		err = model.NewFailure(model.FailureCanceled, "run canceled", err)
	}
	return model.FailureOutcome(err)
}
