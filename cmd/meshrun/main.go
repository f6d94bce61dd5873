// Command meshrun runs the control-surface HTTP server fronting the
// orchestrator: it loads settings, constructs the orchestrator, and
// serves Start/List/Status/Logs/Stop/Kill/Resume/Purge over HTTP until
// it receives an interrupt or termination signal.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshrun/meshrun/pkg/api"
	"github.com/meshrun/meshrun/pkg/config"
	"github.com/meshrun/meshrun/pkg/metrics"
	"github.com/meshrun/meshrun/pkg/orchestrator"
	"github.com/meshrun/meshrun/pkg/runner"
	"github.com/meshrun/meshrun/pkg/version"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func refreshMetricsLoop(ctx context.Context, orch *orchestrator.Orchestrator, collector *metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports := orch.Reports()
			converted := make([]metrics.ClusterReport, len(reports))
			for i, r := range reports {
				converted[i] = metrics.ClusterReport{Status: r.Status, Agents: r.Agents}
			}
			collector.Refresh(converted)
		}
	}
}

func main() {
	settingsPath := flag.String("settings", getEnv("MESHRUN_SETTINGS", ""), "path to a settings YAML file (optional)")
	addr := flag.String("addr", getEnv("MESHRUN_ADDR", ":8090"), "address the control surface listens on")
	runnerCmd := flag.String("runner-command", getEnv("MESHRUN_RUNNER_COMMAND", "meshrun-agent"), "subprocess command the default TaskRunner invokes")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("starting", "version", version.Full())

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", "error", err)
	}

	settings, err := config.Load(*settingsPath)
	if err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	logger.Info("settings loaded", "state_dir", settings.Defaults.StateDir, "templates", len(settings.Templates))

	factory := func() runner.Runner {
		return runner.NewSubprocessRunner(*runnerCmd)
	}

	orch := orchestrator.New(settings, factory, logger)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go orch.RunSweeper(ctx, time.Hour)
	go refreshMetricsLoop(ctx, orch, collector, 15*time.Second)

	server := api.NewServer(orch, logger)
	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("control surface listening", "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control surface failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
