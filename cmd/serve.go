package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/api"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve isochrones and analyses over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEngine(ctx, engineOptions{persist: true, metrics: true})
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Graphs.Warm {
			if err := env.Graphs.Warm(ctx, model.ModeWalk, model.ModeDrive); err != nil {
				return eris.Wrap(err, "warm graphs")
			}
		}

		if env.Store != nil {
			collector := monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StaleRunMinutes)*time.Minute)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring,
				monitoring.WithSnapshotObserver(env.Metrics))
			go checker.Run(ctx)
		}

		handler := buildHandler(env)
		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildHandler routes the API to the wired engine.
func buildHandler(env *engineEnv) http.Handler {
	deps := api.Deps{
		Builder:  env.Builder,
		Analyzer: env.Runner,
		Rules:    env.Table,
		Ready: func(ctx context.Context) error {
			return env.Graphs.Warm(ctx, model.ModeWalk, model.ModeDrive)
		},
	}
	if env.Store != nil {
		deps.Runs = env.Store
	}
	if env.Metrics != nil {
		deps.Metrics = env.Metrics.Handler()
	}
	return api.New(deps, api.Options{
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}).Handler()
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
