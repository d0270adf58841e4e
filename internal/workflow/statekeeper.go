package workflow

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/statekeeper/internal/activity"
	"github.com/edvin/statekeeper/internal/model"
)

// ErrTypeSweepFailed marks a sweep that found invalid or missing records.
const ErrTypeSweepFailed = "SweepFailed"

// EnvironmentFailure records a backup that failed after retries.
type EnvironmentFailure struct {
	Environment model.Environment `json:"environment"`
	Error       string            `json:"error"`
}

// ScheduledBackupResult is the outcome of one scheduled run.
type ScheduledBackupResult struct {
	Backups  []activity.BackupEnvironmentResult `json:"backups"`
	Failures []EnvironmentFailure               `json:"failures,omitempty"`
}

// ScheduledBackupWorkflow backs up each environment in turn with kind
// scheduled. A failing environment does not stop the others; the workflow
// fails after the last environment if any backup failed.
func ScheduledBackupWorkflow(ctx workflow.Context, envs []model.Environment) (ScheduledBackupResult, error) {
	if len(envs) == 0 {
		envs = model.AllEnvironments
	}
	ctx = workflow.WithActivityOptions(ctx, stateActivityOptions(10*time.Minute))
	logger := workflow.GetLogger(ctx)

	var out ScheduledBackupResult
	for _, env := range envs {
		var res activity.BackupEnvironmentResult
		err := workflow.ExecuteActivity(ctx, "BackupEnvironment", env).Get(ctx, &res)
		if err != nil {
			logger.Error("scheduled backup failed", "environment", env, "error", err)
			out.Failures = append(out.Failures, EnvironmentFailure{Environment: env, Error: err.Error()})
			continue
		}
		if res.PruneError != "" {
			logger.Warn("retention failed after backup", "environment", env, "record_id", res.RecordID, "error", res.PruneError)
		}
		out.Backups = append(out.Backups, res)
	}

	if len(out.Failures) > 0 {
		names := make([]string, len(out.Failures))
		for i, f := range out.Failures {
			names[i] = string(f.Environment)
		}
		return out, fmt.Errorf("scheduled backup failed for %s", strings.Join(names, ", "))
	}
	return out, nil
}

// VerificationSweepWorkflow re-verifies every record of env and fails when
// any record is invalid or missing.
func VerificationSweepWorkflow(ctx workflow.Context, env model.Environment) (activity.SweepReport, error) {
	ctx = workflow.WithActivityOptions(ctx, stateActivityOptions(30*time.Minute))

	var report activity.SweepReport
	if err := workflow.ExecuteActivity(ctx, "SweepEnvironment", env).Get(ctx, &report); err != nil {
		return activity.SweepReport{}, err
	}
	if !report.Summary.Healthy() {
		return report, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("verification of %s: %d invalid, %d missing", env, report.Summary.Invalid, report.Summary.Missing),
			ErrTypeSweepFailed, nil, report)
	}
	return report, nil
}
