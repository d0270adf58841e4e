package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/model"
)

// PolicySource returns the retention policy of an environment.
type PolicySource interface {
	RetentionPolicy(env model.Environment) model.RetentionPolicy
}

// StaticPolicy applies one policy to every environment.
type StaticPolicy model.RetentionPolicy

func (p StaticPolicy) RetentionPolicy(model.Environment) model.RetentionPolicy {
	return model.RetentionPolicy(p)
}

// RetentionService enforces retention policies on the catalog.
type RetentionService struct {
	catalog  *catalog.Catalog
	policies PolicySource
	logger   zerolog.Logger
}

func NewRetentionService(d Deps) *RetentionService {
	policies := d.Policies
	if policies == nil {
		policies = StaticPolicy(model.DefaultRetentionPolicy())
	}
	return &RetentionService{
		catalog:  d.Catalog,
		policies: policies,
		logger:   d.Logger.With().Str("component", "retention").Logger(),
	}
}

// Policy returns the effective policy for env.
func (s *RetentionService) Policy(env model.Environment) model.RetentionPolicy {
	return s.policies.RetentionPolicy(env)
}

// Apply prunes env down to its policy: manual and scheduled backups to
// KeepCount, pre-restore backups to PreRestoreKeep. It returns the number of
// records removed, including those removed before a failure.
func (s *RetentionService) Apply(ctx context.Context, env model.Environment) (int, error) {
	if !env.Valid() {
		return 0, notFound(env, "prune", "", model.ErrUnknownEnvironment)
	}
	policy := s.Policy(env)

	removed, err := s.catalog.Prune(ctx, env, policy.KeepCount)
	metrics.ObservePruned(env, removed)
	if err != nil {
		return removed, storageFailure(env, "prune", "", err)
	}

	n, err := s.catalog.PrunePreRestore(ctx, env, policy.PreRestoreKeep)
	metrics.ObservePruned(env, n)
	removed += n
	if err != nil {
		return removed, storageFailure(env, "prune pre-restore", "", err)
	}

	s.logger.Info().
		Str("environment", string(env)).
		Int("keep_count", policy.KeepCount).
		Int("pre_restore_keep", policy.PreRestoreKeep).
		Int("removed", removed).
		Msg("retention applied")
	return removed, nil
}
