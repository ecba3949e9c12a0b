package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	app "attendance-ingest/internal"
	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/connection"
	"attendance-ingest/internal/metrics"
	"attendance-ingest/internal/routes"
	"attendance-ingest/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ingestion server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := ServerMain(ctx); err != nil {
			fatal("Server failed", err)
		}
	},
}

// ServerMain runs the ingestion service until ctx is cancelled.
func ServerMain(ctx context.Context) error {
	slog.Info("Starting attendance ingestion", "version", utils.GetVersion(), "listen", cfg.Listen)
	metrics.Init()

	clk := clockwork.NewRealClock()
	v := newVault()
	if !v.Configured() {
		slog.Warn("Vault key missing, devices with encrypted credentials will fail to connect")
	}
	registry := adapter.NewRegistry(adapter.OptionsFromConfig(cfg, clk))
	recorder := attendance.NewRecorder(provider)

	// The pipeline outlives ctx so queued events drain on shutdown.
	pipeline := attendance.NewPipeline(recorder, cfg.Pipeline.Buffer)
	go pipeline.Run(context.Background())

	manager := connection.NewManager(provider, registry, v, pipeline, connection.Options{
		Clock:         clk,
		StampInterval: cfg.Health.StampInterval,
		RetryDelay:    cfg.Stream.RetryDelay,
	})
	if _, err := manager.StartAllDevices(ctx); err != nil {
		slog.Error("Failed to start device connections", "error", err)
	}

	handler := routes.NewHandler(routes.Deps{
		Store:       provider,
		Registry:    registry,
		Vault:       v,
		Recorder:    recorder,
		Queue:       pipeline,
		Connections: manager,
		Webhook:     cfg.Webhook,
		Clock:       clk,
	})

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.HTTPServer(cfg, handler, manager.Count),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	manager.StopAllDevices()
	pipeline.Close()

	select {
	case <-pipeline.Done():
		slog.Info("Pipeline drained")
	case <-shutdownCtx.Done():
		slog.Warn("Pipeline did not drain before shutdown timeout")
	}
	return serveErr
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
