package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/monitoring"
	"github.com/sells-group/streakwatch/internal/store"
)

var watchListen string

const (
	// statusNotifications caps the dispatch log returned by /status.
	statusNotifications = 10
	healthPingTimeout   = 2 * time.Second
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check contributions on a schedule and serve health, metrics and status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initMonitor(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		metrics := newWatchMetrics()
		watcher, err := monitoring.NewWatcher(env.Pipeline, metrics, cfg.Watch)
		if err != nil {
			return err
		}

		addr := watchListen
		if addr == "" {
			addr = cfg.Watch.ListenAddr
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return watcher.Run(gctx)
		})

		if addr != "" {
			srv := &http.Server{
				Addr:              addr,
				Handler:           buildRouter(watcher, metrics, env.Ledger, cfg.GitHub.Username),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g.Go(func() error {
				zap.L().Info("starting server", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return eris.Wrap(err, "server listen")
				}
				return nil
			})

			// Graceful shutdown
			g.Go(func() error {
				<-gctx.Done()
				zap.L().Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		return g.Wait()
	},
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Username      string               `json:"username"`
	Runs          int64                `json:"runs"`
	NextRun       time.Time            `json:"next_run"`
	Last          *model.Outcome       `json:"last"`
	Notifications []store.Notification `json:"notifications,omitempty"`
}

// newWatchMetrics returns the monitor metrics plus Go runtime and process
// collectors for the long-running watch process.
func newWatchMetrics() *monitoring.Metrics {
	m := monitoring.NewMetrics()
	m.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// buildRouter mounts the operational endpoints. ledger may be nil.
func buildRouter(watcher *monitoring.Watcher, metrics *monitoring.Metrics, ledger store.Ledger, username string) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if p, ok := ledger.(store.Pinger); ok {
			ctx, cancel := context.WithTimeout(req.Context(), healthPingTimeout)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				zap.L().Warn("health: ledger ping failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "ledger": "unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{
			Username: username,
			Runs:     watcher.Runs(),
			NextRun:  watcher.Next(time.Now()).UTC(),
		}
		if last, ok := watcher.Last(); ok {
			resp.Last = &last
		}
		if ledger != nil {
			ns, err := ledger.Notifications(req.Context(), username, statusNotifications)
			if err != nil {
				zap.L().Warn("status: list notifications", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "notification log unavailable"})
				return
			}
			resp.Notifications = ns
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "listen address for /health, /metrics and /status (default from config)")
	rootCmd.AddCommand(watchCmd)
}
