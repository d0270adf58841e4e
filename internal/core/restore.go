package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/integrity"
	"github.com/edvin/statekeeper/internal/lock"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/platform"
	"github.com/edvin/statekeeper/internal/statestore"
)

// RestoreResult is the outcome of a restore.
type RestoreResult struct {
	Record     model.Record          `json:"record"`
	Source     model.Record          `json:"source"`
	PreRestore model.Record          `json:"pre_restore"`
	Latest     model.LatestReference `json:"latest"`
	Warnings   []string              `json:"warnings,omitempty"`
}

// RestoreService overwrites an environment's remote state with an archived
// backup. Every restore is preceded by a pre-restore backup so it can be undone.
type RestoreService struct {
	store   statestore.Store
	archive archive.Archive
	catalog *catalog.Catalog
	backups *BackupService
	locker  lock.Locker
	confirm confirm.Provider
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewRestoreService(d Deps, backups *BackupService) *RestoreService {
	locker := d.Locker
	if locker == nil {
		locker = lock.Noop{}
	}
	return &RestoreService{
		store:   d.Store,
		archive: d.Archive,
		catalog: d.Catalog,
		backups: backups,
		locker:  locker,
		confirm: d.Confirm,
		clock:   d.clock(),
		logger:  d.Logger.With().Str("component", "restore").Logger(),
	}
}

// Restore replaces the remote state of env with the backup that ref resolves to.
//
// The order of steps is fixed: verify the source, confirm, take the lock,
// snapshot the current state as a pre-restore backup, write, re-read and
// verify, then record. Nothing is written to the remote store unless the
// pre-restore snapshot is durable.
func (s *RestoreService) Restore(ctx context.Context, env model.Environment, ref string) (res *RestoreResult, err error) {
	if !env.Valid() {
		return nil, notFound(env, "restore", ref, model.ErrUnknownEnvironment)
	}
	defer func() { metrics.ObserveRestore(env, err) }()
	log := s.logger.With().Str("environment", string(env)).Str("operation", "restore").Str("ref", ref).Logger()

	src, blob, err := s.loadSource(ctx, env, ref)
	if err != nil {
		return nil, err
	}
	warnings := s.compatibility(ctx, env, src)
	for _, w := range warnings {
		log.Warn().Str("source_id", src.ID).Msg(w)
	}

	if err := s.confirmRestore(ctx, env, src, warnings); err != nil {
		return nil, err
	}

	lease, err := s.locker.Acquire(ctx, env)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, conflict(env, "restore", ref, err)
		}
		return nil, storageFailure(env, "acquire restore lock", ref, err)
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn().Err(rerr).Msg("release restore lock")
		}
	}()

	// One lookup covers both the pre-restore and the restore record.
	prov := s.backups.provenanceOf(ctx)
	pre, err := s.backups.snapshot(ctx, env, model.KindPreRestore, prov)
	if err != nil {
		return nil, conflict(env, "pre-restore snapshot", ref, err)
	}
	log.Info().Str("pre_restore_id", pre.Record.ID).Msg("pre-restore backup created")

	// The snapshot can outlast a lease TTL; never overwrite state without it.
	if err := lease.Refresh(ctx); err != nil {
		if errors.Is(err, lock.ErrLost) {
			return nil, conflict(env, "restore", ref, err)
		}
		return nil, storageFailure(env, "refresh restore lock", ref, err)
	}

	if err := s.store.Put(ctx, env, blob); err != nil {
		return nil, storageFailure(env, "write remote state", s.store.Location(env), err)
	}

	current, err := s.store.Get(ctx, env)
	if err != nil {
		return nil, storageFailure(env, "re-read remote state", s.store.Location(env), err)
	}
	v := integrity.Verify(current)
	if !v.Valid {
		return nil, integrityFailure(env, "verify restored state", pre.Record.ID, v.Err)
	}
	if v.Checksum != integrity.Verify(blob).Checksum {
		return nil, integrityFailure(env, "verify restored state", pre.Record.ID,
			errors.New("remote state does not match the restored backup"))
	}

	rec := model.Record{
		ID:                  platform.NewID(),
		Environment:         env,
		Timestamp:           s.after(pre.Record.Timestamp),
		Kind:                model.KindRestore,
		ByteSize:            v.Size,
		ResourceCount:       v.ResourceCount,
		ToolVersion:         v.ToolVersion,
		Serial:              v.Serial,
		Lineage:             v.Lineage,
		Checksum:            v.Checksum,
		SourceBackupRef:     src.ID,
		PreRestoreBackupRef: pre.Record.ID,
	}
	prov.Apply(&rec)
	saved, err := s.catalog.Append(ctx, rec)
	if err != nil {
		return nil, storageFailure(env, "record restore", pre.Record.ID, err)
	}

	log.Info().
		Str("record_id", saved.ID).
		Str("source_id", src.ID).
		Str("pre_restore_id", pre.Record.ID).
		Int("resources", saved.ResourceCount).
		Msg("restore complete")

	return &RestoreResult{
		Record:     saved,
		Source:     src,
		PreRestore: pre.Record,
		Latest:     model.LatestReference{Environment: env, RecordID: saved.ID},
		Warnings:   append(warnings, pre.Warnings...),
	}, nil
}

// loadSource resolves ref and returns its record and verified artifact.
func (s *RestoreService) loadSource(ctx context.Context, env model.Environment, ref string) (model.Record, []byte, error) {
	const op = "restore"

	src, err := s.catalog.Resolve(ctx, env, ref)
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrAmbiguous) {
		return model.Record{}, nil, notFound(env, op, ref, err)
	}
	if err != nil {
		return model.Record{}, nil, storageFailure(env, op, ref, err)
	}
	if src.IsEmpty() {
		return model.Record{}, nil, notFound(env, op, ref,
			fmt.Errorf("backup %s captured no state (%s)", src.ShortID(), src.Note))
	}

	blob, err := s.archive.Read(ctx, src.ArtifactLocation)
	if errors.Is(err, archive.ErrNotFound) {
		return model.Record{}, nil, notFound(env, op, ref, fmt.Errorf("artifact %s: %w", src.ArtifactLocation, err))
	}
	if err != nil {
		return model.Record{}, nil, storageFailure(env, op, src.ArtifactLocation, err)
	}

	// A source that fails verification is reported as not found (there is no
	// usable backup under ref) while still matching IsIntegrity.
	v := integrity.Verify(blob)
	if !v.Valid {
		return model.Record{}, nil, notFound(env, op, ref, integrityFailure(env, "verify backup", src.ArtifactLocation, v.Err))
	}
	if src.Checksum != "" && v.Checksum != src.Checksum {
		return model.Record{}, nil, notFound(env, op, ref, integrityFailure(env, "verify backup", src.ArtifactLocation,
			fmt.Errorf("checksum %s does not match cataloged %s", v.Checksum, src.Checksum)))
	}
	return src, blob, nil
}

// compatibility compares the source backup with the current remote state.
// It only reads; problems reading the current state are left to the
// pre-restore snapshot.
func (s *RestoreService) compatibility(ctx context.Context, env model.Environment, src model.Record) []string {
	current, err := s.store.Get(ctx, env)
	if err != nil {
		return nil
	}
	v := integrity.Verify(current)
	if !v.Valid {
		return []string{fmt.Sprintf("current remote state is invalid (%v); it will be quarantined", v.Err)}
	}

	var warnings []string
	if cmp, ok := integrity.CompareToolVersions(src.ToolVersion, v.ToolVersion); ok && cmp > 0 {
		warnings = append(warnings, fmt.Sprintf("backup was written by tool %s, newer than current state's %s", src.ToolVersion, v.ToolVersion))
	}
	if src.Lineage != "" && v.Lineage != "" && src.Lineage != v.Lineage {
		warnings = append(warnings, fmt.Sprintf("backup lineage %s differs from current state lineage %s", src.Lineage, v.Lineage))
	}
	if v.Serial > src.Serial && src.Serial > 0 {
		warnings = append(warnings, fmt.Sprintf("current state serial %d is ahead of backup serial %d", v.Serial, src.Serial))
	}
	return warnings
}

func (s *RestoreService) confirmRestore(ctx context.Context, env model.Environment, src model.Record, warnings []string) error {
	if s.confirm == nil {
		return fmt.Errorf("restore %s: %w: no confirmation provider", env, ErrAborted)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Restore %s from backup %s (%s, %s, %d resources, tool %s).\n",
		env, src.ShortID(), src.Kind, src.Timestamp.Format(time.RFC3339), src.ResourceCount, src.ToolVersion)
	b.WriteString("The current remote state will be backed up first and then overwritten.")
	for _, w := range warnings {
		fmt.Fprintf(&b, "\nWARNING: %s", w)
	}

	ok, err := s.confirm.Confirm(ctx, b.String())
	if err != nil {
		return fmt.Errorf("restore %s: confirm: %w", env, err)
	}
	if !ok {
		return fmt.Errorf("restore %s: %w", env, ErrAborted)
	}
	return nil
}

// after returns the current time, or the smallest representable instant after
// prev if the clock has not moved past it.
func (s *RestoreService) after(prev time.Time) time.Time {
	now := s.clock.Now().UTC().Truncate(model.TimestampPrecision)
	if !now.After(prev) {
		return prev.Add(model.TimestampPrecision)
	}
	return now
}
