// Package main is the entrypoint for the lifecycle sweeper Lambda function.
//
// EventBridge rules send a SweepPayload naming the task to run; the handler
// routes it to the sweeper service, records job history for operational
// visibility, and emits sweep metrics.
//
// Handler flow:
//  1. Parse SweepPayload; resolve the reference time.
//  2. Record job start in history.
//  3. Dispatch the task to the sweeper.
//  4. Record completion and emit metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"medcase/internal/config"
	"medcase/internal/core"
	"medcase/internal/db"
	"medcase/internal/external"
	"medcase/internal/scheduler"
)

// SweepService is the subset of sweeper methods the handler dispatches to.
// Declared as an interface so the handler can be tested with a mock.
type SweepService interface {
	DowngradeExpired(ctx context.Context, now time.Time) (int, error)
	CleanupExpiredData(ctx context.Context, now time.Time) (int, error)
	RunFullSweep(ctx context.Context, now time.Time) (int, error)
}

// JobHistorian records sweep runs for operational visibility.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// SweepRecorder emits per-pass metrics. Nil-safe at the call site.
type SweepRecorder interface {
	RecordSweep(ctx context.Context, task string, processed int, duration time.Duration)
}

// Handler owns the dependencies for one Lambda invocation. It is built once
// during cold start and reused across invocations.
type Handler struct {
	Sweeper SweepService
	History JobHistorian
	Metrics SweepRecorder
	Logger  *slog.Logger
}

// Handle is the Lambda entrypoint for a SweepPayload event.
func (h *Handler) Handle(ctx context.Context, payload scheduler.SweepPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "sweeper invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in sweep payload")
	}

	jobID, err := h.History.Start(ctx, taskStr)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		// Non-fatal: run the sweep even when history tracking fails.
		// jobID=0 signals that Finish should be skipped.
		jobID = 0
	}

	start := time.Now()
	items, execErr := h.dispatch(ctx, payload.Task, now)
	elapsed := time.Since(start)

	status := "success"
	if execErr != nil {
		status = "failed"
	}

	if jobID != 0 {
		if finishErr := h.History.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if h.Metrics != nil {
		h.Metrics.RecordSweep(ctx, taskStr, items, elapsed)
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "sweep task failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d records processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
		"duration", elapsed,
	)
	return result, nil
}

// dispatch routes a TaskType to the matching sweeper pass.
func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskDowngradeExpired:
		return h.Sweeper.DowngradeExpired(ctx, now)
	case scheduler.TaskCleanupExpiredData:
		return h.Sweeper.CleanupExpiredData(ctx, now)
	case scheduler.TaskFullSweep:
		return h.Sweeper.RunFullSweep(ctx, now)
	default:
		return 0, fmt.Errorf("unknown sweep task: %s", task)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: connecting database: %v\n", err)
		os.Exit(1)
	}

	aiClient := external.NewAIServiceClient(cfg.AIService, logger)
	store := db.NewMaintenanceStore(pool)
	sweeper := scheduler.NewSweeper(
		store,
		aiClient,
		aiClient,
		logger,
		cfg.Sweeper.BatchLimit,
		cfg.Sweeper.CaseDeleteParallelism,
	)

	handler := &Handler{
		Sweeper: sweeper,
		History: db.NewJobHistoryRepo(pool),
		Logger:  logger,
	}

	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: loading AWS configuration: %v\n", err)
			os.Exit(1)
		}
		handler.Metrics = core.NewSweepMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricsNamespace,
			logger,
		)
	}

	lambda.Start(handler.Handle)
}
