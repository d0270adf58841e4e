package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/integrity"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/statestore"
)

// SweepService re-verifies every cataloged artifact. It never writes.
type SweepService struct {
	store   statestore.Store
	archive archive.Archive
	catalog *catalog.Catalog
	logger  zerolog.Logger
}

func NewSweepService(d Deps) *SweepService {
	return &SweepService{
		store:   d.Store,
		archive: d.Archive,
		catalog: d.Catalog,
		logger:  d.Logger.With().Str("component", "sweep").Logger(),
	}
}

// VerifyAll classifies each record of envs (all environments when empty),
// most recent first. Backups are checked against their archived artifact; the
// latest restore of each environment is checked against the current remote
// state. Older restore records describe superseded state and are skipped.
func (s *SweepService) VerifyAll(ctx context.Context, envs []model.Environment) ([]model.SweepResult, error) {
	if len(envs) == 0 {
		envs = model.AllEnvironments
	}
	for _, env := range envs {
		if !env.Valid() {
			return nil, notFound(env, "verify-all", "", model.ErrUnknownEnvironment)
		}
	}

	seq, err := s.catalog.List(ctx, catalog.Filter{Environments: envs})
	if err != nil {
		return nil, storageFailure("", "verify-all", "", err)
	}

	results := []model.SweepResult{}
	seenRestore := map[model.Environment]bool{}
	for rec := range seq {
		var (
			res model.SweepResult
			err error
		)
		switch {
		case rec.IsRestore():
			if seenRestore[rec.Environment] {
				continue
			}
			seenRestore[rec.Environment] = true
			res, err = s.checkCurrent(ctx, rec)
		case rec.IsEmpty():
			res = model.SweepResult{Record: rec, Status: model.SweepOK, Detail: "no artifact: " + rec.Note}
		default:
			res, err = s.checkArtifact(ctx, rec)
		}
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	summary := model.Summarize(results)
	metrics.ObserveSweep(envs, results)
	s.logger.Info().
		Int("valid", summary.Valid).
		Int("invalid", summary.Invalid).
		Int("missing", summary.Missing).
		Msg("verification sweep complete")
	return results, nil
}

func (s *SweepService) checkArtifact(ctx context.Context, rec model.Record) (model.SweepResult, error) {
	blob, err := s.archive.Read(ctx, rec.ArtifactLocation)
	if errors.Is(err, archive.ErrNotFound) {
		return model.SweepResult{Record: rec, Status: model.SweepMissing, Detail: "artifact not found in archive"}, nil
	}
	if err != nil {
		return model.SweepResult{}, storageFailure(rec.Environment, "verify-all", rec.ArtifactLocation, err)
	}
	return classify(rec, integrity.Verify(blob), "artifact"), nil
}

func (s *SweepService) checkCurrent(ctx context.Context, rec model.Record) (model.SweepResult, error) {
	blob, err := s.store.Get(ctx, rec.Environment)
	if errors.Is(err, statestore.ErrNotFound) {
		return model.SweepResult{Record: rec, Status: model.SweepMissing, Detail: "remote state not found"}, nil
	}
	if err != nil {
		return model.SweepResult{}, storageFailure(rec.Environment, "verify-all", s.store.Location(rec.Environment), err)
	}

	v := integrity.Verify(blob)
	if !v.Valid {
		return model.SweepResult{Record: rec, Status: model.SweepInvalid, Detail: "remote state: " + v.Err.Error()}, nil
	}
	detail := fmt.Sprintf("remote state valid, %d resources", v.ResourceCount)
	if v.Checksum != rec.Checksum {
		detail += "; changed since restore"
	}
	return model.SweepResult{Record: rec, Status: model.SweepOK, Detail: detail}, nil
}

func classify(rec model.Record, v integrity.Result, what string) model.SweepResult {
	switch {
	case !v.Valid:
		return model.SweepResult{Record: rec, Status: model.SweepInvalid, Detail: fmt.Sprintf("%s: %v", what, v.Err)}
	case rec.Checksum != "" && v.Checksum != rec.Checksum:
		return model.SweepResult{Record: rec, Status: model.SweepInvalid, Detail: what + " checksum does not match catalog"}
	case v.ResourceCount != rec.ResourceCount:
		return model.SweepResult{Record: rec, Status: model.SweepInvalid,
			Detail: fmt.Sprintf("%s has %d resources, catalog says %d", what, v.ResourceCount, rec.ResourceCount)}
	}
	return model.SweepResult{Record: rec, Status: model.SweepOK, Detail: fmt.Sprintf("%d resources", v.ResourceCount)}
}
