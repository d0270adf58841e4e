package activity

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/model"
)

// Application error types reported to workflows.
const (
	ErrTypeIntegrity = "IntegrityError"
	ErrTypeNotFound  = "NotFoundError"
)

// Backuper takes backups of one environment.
type Backuper interface {
	Backup(ctx context.Context, env model.Environment, kind model.Kind) (*core.BackupResult, error)
}

// Sweeper re-verifies cataloged records.
type Sweeper interface {
	VerifyAll(ctx context.Context, envs []model.Environment) ([]model.SweepResult, error)
}

// StateKeeper exposes the backup and verification services as activities.
type StateKeeper struct {
	backup Backuper
	sweep  Sweeper
	logger zerolog.Logger
}

func NewStateKeeper(backup Backuper, sweep Sweeper, logger zerolog.Logger) *StateKeeper {
	return &StateKeeper{
		backup: backup,
		sweep:  sweep,
		logger: logger.With().Str("component", "activity").Logger(),
	}
}

// BackupEnvironmentResult summarizes one scheduled backup.
type BackupEnvironmentResult struct {
	Environment   model.Environment `json:"environment"`
	RecordID      string            `json:"record_id"`
	ArtifactURI   string            `json:"artifact_uri,omitempty"`
	ResourceCount int               `json:"resource_count"`
	ByteSize      int64             `json:"byte_size"`
	Empty         bool              `json:"empty,omitempty"`
	Pruned        int               `json:"pruned"`
	PruneError    string            `json:"prune_error,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// BackupEnvironment takes a scheduled backup of env. A retention failure after
// a successful backup is reported in the result rather than failing the
// activity, since a retry would take a second backup.
func (a *StateKeeper) BackupEnvironment(ctx context.Context, env model.Environment) (BackupEnvironmentResult, error) {
	res, err := a.backup.Backup(ctx, env, model.KindScheduled)
	if res == nil {
		return BackupEnvironmentResult{}, classify(err)
	}

	out := BackupEnvironmentResult{
		Environment:   env,
		RecordID:      res.Record.ID,
		ArtifactURI:   res.URI,
		ResourceCount: res.Record.ResourceCount,
		ByteSize:      res.Record.ByteSize,
		Empty:         res.Record.IsEmpty(),
		Pruned:        res.Pruned,
		Warnings:      res.Warnings,
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("environment", string(env)).Str("record_id", out.RecordID).Msg("backup kept but pruning failed")
		out.PruneError = err.Error()
	}
	return out, nil
}

// SweepReport summarizes the verification of one environment.
type SweepReport struct {
	Environment model.Environment   `json:"environment"`
	Summary     model.SweepSummary  `json:"summary"`
	Failures    []model.SweepResult `json:"failures,omitempty"`
}

// SweepEnvironment re-verifies every record of env. Records that fail
// verification are reported, not returned as an error.
func (a *StateKeeper) SweepEnvironment(ctx context.Context, env model.Environment) (SweepReport, error) {
	results, err := a.sweep.VerifyAll(ctx, []model.Environment{env})
	if err != nil {
		return SweepReport{}, classify(err)
	}
	report := SweepReport{Environment: env, Summary: model.Summarize(results)}
	for _, r := range results {
		if r.Status != model.SweepOK {
			report.Failures = append(report.Failures, r)
		}
	}
	return report, nil
}

// classify marks failures that a retry cannot fix as non-retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case core.IsIntegrity(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeIntegrity, err)
	case core.IsNotFound(err), errors.Is(err, model.ErrUnknownEnvironment):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	}
	return err
}
