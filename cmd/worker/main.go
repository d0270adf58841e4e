package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/statekeeper/internal/activity"
	"github.com/edvin/statekeeper/internal/backend"
	"github.com/edvin/statekeeper/internal/config"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/logging"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/vcs"
	"github.com/edvin/statekeeper/internal/workflow"
)

const backupScheduleID = "statekeeper-scheduled-backup"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ServiceName = config.ComponentWorker

	if err := cfg.Validate(config.ComponentWorker); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector := vcs.NewDetector(cfg.RepoDir)
	backends, err := backend.Open(ctx, cfg, detector.Provenance(ctx).Operator, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backends")
	}
	defer backends.Close()

	// Scheduled runs never restore, so nothing ever asks for confirmation.
	svc := core.NewServices(backends.Deps(confirm.AutoApprove{}, detector, logger))

	tlsConfig, err := cfg.Temporal.TLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
	}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{workflow.NewActivityErrorInterceptor(logger)},
	})
	w.RegisterActivity(activity.NewStateKeeper(svc.Backup, svc.Sweep, logger))
	w.RegisterWorkflow(workflow.ScheduledBackupWorkflow)
	w.RegisterWorkflow(workflow.VerificationSweepWorkflow)

	if cfg.Temporal.Schedule != "" {
		if err := ensureBackupSchedule(ctx, tc, cfg, logger); err != nil {
			logger.Fatal().Err(err).Str("id", backupScheduleID).Msg("failed to create backup schedule")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		interrupt := make(chan interface{})
		go func() {
			<-gctx.Done()
			close(interrupt)
		}()
		logger.Info().Str("taskQueue", cfg.Temporal.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(interrupt); err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
		return nil
	})

	if cfg.MetricsListenAddr != "" {
		srv := metrics.NewServer(cfg.MetricsListenAddr, healthChecks(backends)...)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker stopped")
}

func healthChecks(b *backend.Backends) []metrics.HealthFunc {
	var checks []metrics.HealthFunc
	for _, check := range b.HealthChecks() {
		checks = append(checks, check)
	}
	return checks
}

// ensureBackupSchedule creates the cron schedule for scheduled backups. An
// existing schedule is left alone so that redeploys do not fail; change the
// cron expression with the temporal CLI.
func ensureBackupSchedule(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) error {
	_, err := tc.ScheduleClient().Create(ctx, temporalclient.ScheduleOptions{
		ID: backupScheduleID,
		Spec: temporalclient.ScheduleSpec{
			CronExpressions: []string{cfg.Temporal.Schedule},
		},
		Action: &temporalclient.ScheduleWorkflowAction{
			ID:        backupScheduleID,
			Workflow:  workflow.ScheduledBackupWorkflow,
			Args:      []interface{}{cfg.ScheduledEnvironments()},
			TaskQueue: cfg.Temporal.TaskQueue,
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			logger.Info().Str("id", backupScheduleID).Msg("backup schedule already exists, skipping")
			return nil
		}
		return err
	}
	logger.Info().Str("id", backupScheduleID).Str("cron", cfg.Temporal.Schedule).Msg("created backup schedule")
	return nil
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "AlreadyExists") || strings.Contains(msg, "already registered")
}
