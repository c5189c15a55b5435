package monitoring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/streakwatch/internal/config"
	"github.com/sells-group/streakwatch/internal/model"
)

// Runner performs one monitor run.
type Runner interface {
	Run(ctx context.Context) model.Outcome
}

// scheduleParser accepts a leading seconds field, matching cron.WithSeconds.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Watcher runs the monitor on a cron schedule and remembers the last result.
type Watcher struct {
	runner   Runner
	metrics  *Metrics
	schedule cron.Schedule
	expr     string
	timeout  time.Duration

	last atomic.Pointer[model.Outcome]
	runs atomic.Int64
}

// NewWatcher validates the schedule and creates a Watcher. metrics may be nil.
func NewWatcher(runner Runner, metrics *Metrics, cfg config.WatchConfig) (*Watcher, error) {
	sched, err := scheduleParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: parse schedule %q", cfg.Schedule)
	}

	timeout := time.Duration(cfg.RunTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Watcher{
		runner:   runner,
		metrics:  metrics,
		schedule: sched,
		expr:     cfg.Schedule,
		timeout:  timeout,
	}, nil
}

// Run performs one check immediately, then on every tick of the schedule.
// A tick that fires while a run is still in progress is skipped. It blocks
// until ctx is cancelled and the in-flight run has finished.
func (w *Watcher) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "monitoring.watcher"))
	clog := cronLogger{log: log}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() {
		w.RunOnce(ctx)
	}))

	log.Info("starting watcher",
		zap.String("schedule", w.expr),
		zap.Duration("run_timeout", w.timeout),
	)

	w.RunOnce(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("watcher stopped", zap.Int64("runs", w.runs.Load()))
	return nil
}

// RunOnce executes a single bounded run and records its outcome.
func (w *Watcher) RunOnce(ctx context.Context) model.Outcome {
	if ctx.Err() != nil {
		return model.FailureOutcome(model.NewFailure(model.FailureCanceled, "watcher stopped", ctx.Err()))
	}

	rctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	outcome := w.runner.Run(rctx)
	elapsed := time.Since(start)

	w.metrics.Observe(outcome, elapsed)
	w.last.Store(&outcome)
	w.runs.Add(1)

	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.Int("count", outcome.Count),
		zap.Duration("elapsed", elapsed),
	}
	if outcome.Failure != nil {
		zap.L().Warn("monitoring: run failed",
			append(fields, zap.String("kind", string(outcome.Failure.Kind)), zap.String("detail", outcome.Failure.Detail))...)
	} else {
		zap.L().Info("monitoring: run complete", fields...)
	}
	return outcome
}

// Last returns the most recent outcome, if any run has completed.
func (w *Watcher) Last() (model.Outcome, bool) {
	o := w.last.Load()
	if o == nil {
		return model.Outcome{}, false
	}
	return *o, true
}

// Runs reports how many runs have completed.
func (w *Watcher) Runs() int64 {
	return w.runs.Load()
}

// Next returns the next scheduled run time after now.
func (w *Watcher) Next(now time.Time) time.Time {
	return w.schedule.Next(now)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
