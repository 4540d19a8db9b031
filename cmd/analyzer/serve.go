package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/project-analyzer/internal/cleanup"
	"github.com/p-blackswan/project-analyzer/internal/health"
	"github.com/p-blackswan/project-analyzer/internal/jobs"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
	"github.com/p-blackswan/project-analyzer/internal/server"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen", cfg.HTTPListenAddr).
		Msg("starting project analyzer")

	for _, dir := range []string{cfg.WorkRoot, cfg.UploadDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	m := metrics.New()
	orch, err := a.buildPipeline(m, "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := jobs.NewEngine(jobs.Config{
		Workers:     cfg.JobWorkers,
		QueueSize:   cfg.JobQueueSize,
		HistorySize: cfg.JobHistorySize,
		Timeout:     cfg.JobTimeout,
	}, orch, m, logger)
	engine.Start(ctx)

	targets := []cleanup.Target{{Dir: cfg.UploadDir, Prefix: "upload-", Kind: cleanup.KindUpload}}
	if cfg.DeleteTempAfterRun {
		targets = append(targets, cleanup.Target{Dir: cfg.WorkRoot, Prefix: "analysis-", Kind: cleanup.KindWorkDir, DirsOnly: true})
	}
	sweeper := cleanup.NewSweeper(cleanup.Config{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.SweepStaleAfter,
		Targets:    targets,
	}, m, logger)
	go sweeper.Run(ctx)

	checker := health.NewChecker(logger)
	checker.Register("work_root", health.DirWritable(cfg.WorkRoot))
	checker.Register("upload_dir", health.DirWritable(cfg.UploadDir))
	checker.Register("work_root_disk", health.DiskSpace(cfg.WorkRoot, cfg.DiskMaxUsedPct))
	checker.Register("polish", health.PolishConfigured(cfg.PolishEnabled()))
	checker.Register("job_queue", health.Accepting(engine.Accepting))
	checker.RunAll(ctx)

	srv := server.NewServer(server.Config{
		ListenAddr:     cfg.HTTPListenAddr,
		CORSOrigins:    cfg.CORSOrigins,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, engine, checker, m, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("http server stopped")
	case <-ctx.Done():
	}

	cancel()
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-time.After(shutdownGrace):
		logger.Warn().Msg("shutdown timed out")
	}
	return serveErr
}
