package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/integrity"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/platform"
	"github.com/edvin/statekeeper/internal/statestore"
)

// Notes attached to empty backup records.
const (
	NoteEmptyState  = "empty state"
	noteQuarantined = "remote state failed verification; raw bytes quarantined at %s: %v"
)

// ProvenanceSource supplies operator and source-control metadata for new records.
type ProvenanceSource interface {
	Provenance(ctx context.Context) model.Provenance
}

// BackupResult is the outcome of a backup run.
type BackupResult struct {
	Record   model.Record          `json:"record"`
	URI      string                `json:"uri,omitempty"`
	Latest   model.LatestReference `json:"latest"`
	Pruned   int                   `json:"pruned"`
	Warnings []string              `json:"warnings,omitempty"`
}

// BackupService captures the remote state of an environment into the archive
// and catalogs it.
type BackupService struct {
	store      statestore.Store
	archive    archive.Archive
	catalog    *catalog.Catalog
	retention  *RetentionService
	provenance ProvenanceSource
	clock      clock.Clock
	logger     zerolog.Logger

	allowEmpty       bool
	pruneAfterBackup bool
}

// NewBackupService creates a BackupService from the shared dependencies.
func NewBackupService(d Deps, retention *RetentionService) *BackupService {
	return &BackupService{
		store:            d.Store,
		archive:          d.Archive,
		catalog:          d.Catalog,
		retention:        retention,
		provenance:       d.Provenance,
		clock:            d.clock(),
		logger:           d.Logger.With().Str("component", "backup").Logger(),
		allowEmpty:       d.AllowEmptyBackup,
		pruneAfterBackup: d.PruneAfterBackup,
	}
}

// Backup reads the current state of env, verifies it, archives it and appends
// a record of the given kind (manual or scheduled). When pruning is enabled the
// environment's retention policy is applied afterwards. If the backup succeeds
// but pruning fails, both the result and the error are returned.
func (s *BackupService) Backup(ctx context.Context, env model.Environment, kind model.Kind) (*BackupResult, error) {
	if !env.Valid() {
		return nil, notFound(env, "backup", "", model.ErrUnknownEnvironment)
	}
	if kind != model.KindManual && kind != model.KindScheduled {
		return nil, fmt.Errorf("backup %s: invalid kind %q", env, kind)
	}

	res, err := s.snapshot(ctx, env, kind, s.provenanceOf(ctx))
	metrics.ObserveBackup(env, kind, recordOf(res), err)
	if err != nil {
		return nil, err
	}

	if s.pruneAfterBackup {
		n, err := s.retention.Apply(ctx, env)
		res.Pruned = n
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func recordOf(res *BackupResult) model.Record {
	if res == nil {
		return model.Record{}
	}
	return res.Record
}

// snapshot is the backup algorithm shared by regular and pre-restore runs.
// Pre-restore runs tolerate absent and unverifiable state; they never fail
// because of what the remote store holds, only because of I/O. prov is
// resolved once by the caller and stamped on whatever record is written.
func (s *BackupService) snapshot(ctx context.Context, env model.Environment, kind model.Kind, prov model.Provenance) (*BackupResult, error) {
	op := string(kind) + " backup"
	log := s.logger.With().Str("environment", string(env)).Str("operation", op).Logger()

	blob, err := s.store.Get(ctx, env)
	if errors.Is(err, statestore.ErrNotFound) {
		if kind != model.KindPreRestore && !s.allowEmpty {
			return nil, notFound(env, op, s.store.Location(env), err)
		}
		log.Warn().Str("location", s.store.Location(env)).Msg("no remote state; recording empty backup")
		return s.appendEmpty(ctx, env, kind, NoteEmptyState, prov)
	}
	if err != nil {
		return nil, storageFailure(env, op, s.store.Location(env), err)
	}

	v := integrity.Verify(blob)
	if !v.Valid {
		if kind != model.KindPreRestore {
			return nil, integrityFailure(env, op, s.store.Location(env), v.Err)
		}
		return s.quarantine(ctx, env, blob, v.Err, prov)
	}

	ts := s.now()
	loc := model.ArtifactLocation(env, ts, kind)
	if err := s.archive.Write(ctx, loc, blob); err != nil {
		return nil, storageFailure(env, op, loc, err)
	}

	rec := model.Record{
		ID:               platform.NewID(),
		Environment:      env,
		Timestamp:        ts,
		Kind:             kind,
		ArtifactLocation: loc,
		ByteSize:         v.Size,
		ResourceCount:    v.ResourceCount,
		ToolVersion:      v.ToolVersion,
		Serial:           v.Serial,
		Lineage:          v.Lineage,
		Checksum:         v.Checksum,
	}
	prov.Apply(&rec)

	saved, err := s.catalog.Append(ctx, rec)
	if err != nil {
		if derr := s.archive.Delete(ctx, loc); derr != nil && !errors.Is(derr, archive.ErrNotFound) {
			log.Warn().Err(derr).Str("artifact", loc).Msg("could not remove uncataloged artifact")
		}
		return nil, storageFailure(env, op, loc, err)
	}

	for _, w := range v.Warnings {
		log.Warn().Str("record_id", saved.ID).Msg(w)
	}
	log.Info().
		Str("record_id", saved.ID).
		Str("artifact", loc).
		Int("resources", saved.ResourceCount).
		Int64("bytes", saved.ByteSize).
		Str("tool_version", saved.ToolVersion).
		Msg("backup created")

	return &BackupResult{
		Record:   saved,
		URI:      s.archive.URI(loc),
		Latest:   model.LatestReference{Environment: env, RecordID: saved.ID},
		Warnings: v.Warnings,
	}, nil
}

// quarantine parks unverifiable remote state outside the catalog and records
// an empty pre-restore backup that points at it.
func (s *BackupService) quarantine(ctx context.Context, env model.Environment, blob []byte, cause error, prov model.Provenance) (*BackupResult, error) {
	loc := model.QuarantineLocation(env, s.now())
	if err := s.archive.Write(ctx, loc, blob); err != nil {
		return nil, storageFailure(env, "quarantine remote state", loc, err)
	}
	s.logger.Warn().
		Str("environment", string(env)).
		Str("quarantine", loc).
		Err(cause).
		Msg("remote state failed verification before restore")
	return s.appendEmpty(ctx, env, model.KindPreRestore, fmt.Sprintf(noteQuarantined, loc, cause), prov)
}

func (s *BackupService) appendEmpty(ctx context.Context, env model.Environment, kind model.Kind, note string, prov model.Provenance) (*BackupResult, error) {
	rec := model.Record{
		ID:          platform.NewID(),
		Environment: env,
		Timestamp:   s.now(),
		Kind:        kind,
		Note:        note,
	}
	prov.Apply(&rec)

	saved, err := s.catalog.Append(ctx, rec)
	if err != nil {
		return nil, storageFailure(env, string(kind)+" backup", "", err)
	}
	s.logger.Info().
		Str("environment", string(env)).
		Str("record_id", saved.ID).
		Str("kind", string(kind)).
		Str("note", note).
		Msg("empty backup recorded")
	return &BackupResult{
		Record:   saved,
		Latest:   model.LatestReference{Environment: env, RecordID: saved.ID},
		Warnings: []string{note},
	}, nil
}

func (s *BackupService) provenanceOf(ctx context.Context) model.Provenance {
	if s.provenance == nil {
		return model.Provenance{}
	}
	return s.provenance.Provenance(ctx)
}

func (s *BackupService) now() time.Time {
	return s.clock.Now().UTC().Truncate(model.TimestampPrecision)
}
