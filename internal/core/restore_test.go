package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/statekeeper/internal/lock"
	"github.com/edvin/statekeeper/internal/model"
)

// scenario sets production to 42 resources, backs it up, then moves the
// remote state on to 50 resources.
func scenario(t *testing.T, f *fixture) (backupX model.Record, state42, state50 []byte) {
	t.Helper()
	state42 = stateJSON(42, "1.9.2", "prod-lineage", 10)
	state50 = stateJSON(50, "1.9.2", "prod-lineage", 11)
	f.put(t, model.EnvProduction, state42)
	backupX = f.backup(t, model.EnvProduction, model.KindManual).Record
	f.put(t, model.EnvProduction, state50)
	return backupX, state42, state50
}

func TestRestore_SnapshotsCurrentThenReplaces(t *testing.T) {
	f := newFixture(t)
	backupX, state42, _ := scenario(t, f)

	res, err := f.restore(model.EnvProduction, backupX.ID)
	require.NoError(t, err)

	assert.Equal(t, model.KindRestore, res.Record.Kind)
	assert.Equal(t, 42, res.Record.ResourceCount)
	assert.Equal(t, backupX.ID, res.Record.SourceBackupRef)
	assert.Equal(t, res.PreRestore.ID, res.Record.PreRestoreBackupRef)
	assert.Equal(t, "ops@example.com", res.Record.Operator)
	assert.Empty(t, res.Record.ArtifactLocation)
	assert.Equal(t, model.LatestReference{Environment: model.EnvProduction, RecordID: res.Record.ID}, res.Latest)

	assert.Equal(t, model.KindPreRestore, res.PreRestore.Kind)
	assert.Equal(t, 50, res.PreRestore.ResourceCount)
	assert.True(t, res.PreRestore.Timestamp.Before(res.Record.Timestamp))

	assert.Equal(t, state42, f.current(t, model.EnvProduction))

	results, err := f.svc.Sweep.VerifyAll(context.Background(), []model.Environment{model.EnvProduction})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, res.Record.ID, results[0].Record.ID)
	assert.Equal(t, model.SweepOK, results[0].Status)
	assert.Equal(t, 42, results[0].Record.ResourceCount)
	assert.Equal(t, "remote state valid, 42 resources", results[0].Detail)
	assert.True(t, model.Summarize(results).Healthy())

	pre := f.records(t, model.EnvProduction, model.KindPreRestore)
	require.Len(t, pre, 1)
	assert.Equal(t, 50, pre[0].ResourceCount)
}

func TestRestore_PreRestoreIsUndoable(t *testing.T) {
	f := newFixture(t)
	backupX, _, state50 := scenario(t, f)

	res, err := f.restore(model.EnvProduction, backupX.ID)
	require.NoError(t, err)

	undo, err := f.restore(model.EnvProduction, res.PreRestore.ID)
	require.NoError(t, err)
	assert.Equal(t, state50, f.current(t, model.EnvProduction))
	assert.Equal(t, 50, undo.Record.ResourceCount)
}

func TestRestore_RoundTripIsByteIdentical(t *testing.T) {
	f := newFixture(t)
	backupX, _, _ := scenario(t, f)

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.NoError(t, err)

	after := f.backup(t, model.EnvProduction, model.KindManual)
	assert.Equal(t, f.artifact(t, backupX), f.artifact(t, after.Record))
	assert.Equal(t, backupX.Checksum, after.Record.Checksum)
}

func TestRestore_ResolvesLatestAndPrefixes(t *testing.T) {
	f := newFixture(t)
	backupX, state42, _ := scenario(t, f)

	res, err := f.restore(model.EnvProduction, "latest")
	require.NoError(t, err)
	assert.Equal(t, backupX.ID, res.Source.ID)

	res, err = f.restore(model.EnvProduction, backupX.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, backupX.ID, res.Source.ID)
	assert.Equal(t, state42, f.current(t, model.EnvProduction))
}

func TestRestore_Declined(t *testing.T) {
	f := newFixture(t)
	backupX, _, state50 := scenario(t, f)
	f.confirm.answer = false

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.ErrorIs(t, err, ErrAborted)

	require.Len(t, f.confirm.prompts, 1)
	assert.Contains(t, f.confirm.prompts[0], "Restore production from backup "+backupX.ShortID())
	assert.Empty(t, f.records(t, model.EnvProduction, model.KindPreRestore, model.KindRestore))
	assert.Equal(t, state50, f.current(t, model.EnvProduction))
}

func TestRestore_ConfirmationError(t *testing.T) {
	f := newFixture(t)
	backupX, _, state50 := scenario(t, f)
	f.confirm.err = errors.New("stdin closed")

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdin closed")
	assert.Equal(t, state50, f.current(t, model.EnvProduction))
}

func TestRestore_PreRestoreFailureFailsClosed(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Archive = faultyArchive{Archive: d.Archive, failOn: "pre-restore"} })
	backupX, _, state50 := scenario(t, f)

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, IsStorage(err), "the underlying cause stays visible")
	assert.Contains(t, err.Error(), "pre-restore snapshot")

	assert.Equal(t, state50, f.current(t, model.EnvProduction), "remote state must be untouched")
	assert.Empty(t, f.records(t, model.EnvProduction, model.KindPreRestore, model.KindRestore))
}

func TestRestore_LockHeld(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Locker = heldLocker{} })
	backupX, _, state50 := scenario(t, f)

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, state50, f.current(t, model.EnvProduction))
	assert.Empty(t, f.records(t, model.EnvProduction, model.KindPreRestore))
}

func TestRestore_LockReleased(t *testing.T) {
	locker := &countingLocker{}
	f := newFixture(t, func(d *Deps) { d.Locker = locker })
	backupX, _, _ := scenario(t, f)

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.refreshed)
	assert.Equal(t, 1, locker.released)
}

func TestRestore_ResolvesProvenanceOnce(t *testing.T) {
	prov := &countingProvenance{staticProvenance: staticProvenance{Operator: "carol", Revision: "feedface", Branch: "hotfix"}}
	f := newFixture(t, func(d *Deps) { d.Provenance = prov })
	backupX, _, _ := scenario(t, f)
	prov.calls = 0

	res, err := f.restore(model.EnvProduction, backupX.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prov.calls)

	for _, rec := range []model.Record{res.PreRestore, res.Record} {
		assert.Equal(t, "carol", rec.Operator, rec.Kind)
		assert.Equal(t, "feedface", rec.Revision, rec.Kind)
		assert.Equal(t, "hotfix", rec.Branch, rec.Kind)
	}
}

func TestRestore_LeaseLostBeforeWrite(t *testing.T) {
	locker := &lostLocker{}
	f := newFixture(t, func(d *Deps) { d.Locker = locker })
	backupX, _, state50 := scenario(t, f)

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, lock.ErrLost)

	assert.Equal(t, state50, f.current(t, model.EnvProduction), "remote state must be untouched")
	assert.Empty(t, f.records(t, model.EnvProduction, model.KindRestore))
	assert.Equal(t, 1, locker.released)
}

func TestRestore_AbsentCurrentState(t *testing.T) {
	f := newFixture(t)
	state := stateJSON(5, "1.9.2", "lin", 3)
	f.put(t, model.EnvStaging, state)
	src := f.backup(t, model.EnvStaging, model.KindManual).Record

	// Same backup restored into an environment that has never had state.
	require.NoError(t, os.Remove(filepath.Join(f.storeDir, "staging", "terraform.tfstate")))

	res, err := f.restore(model.EnvStaging, src.ID)
	require.NoError(t, err)
	assert.True(t, res.PreRestore.IsEmpty())
	assert.Equal(t, 0, res.PreRestore.ResourceCount)
	assert.Equal(t, NoteEmptyState, res.PreRestore.Note)
	assert.Equal(t, state, f.current(t, model.EnvStaging))
}

func TestRestore_CorruptCurrentStateIsQuarantined(t *testing.T) {
	f := newFixture(t)
	good := stateJSON(5, "1.9.2", "lin", 3)
	f.put(t, model.EnvStaging, good)
	src := f.backup(t, model.EnvStaging, model.KindManual).Record
	corrupt := []byte(`{"resources": [`)
	f.put(t, model.EnvStaging, corrupt)

	res, err := f.restore(model.EnvStaging, src.ID)
	require.NoError(t, err)
	assert.Equal(t, good, f.current(t, model.EnvStaging))

	pre := res.PreRestore
	assert.True(t, pre.IsEmpty(), "invalid state is never cataloged as a backup artifact")
	assert.Contains(t, pre.Note, "staging/quarantine/")

	quarantined, err := f.archive.Read(context.Background(), model.QuarantineLocation(model.EnvStaging, pre.Timestamp))
	require.NoError(t, err)
	assert.Equal(t, corrupt, quarantined)
	assert.NotEmpty(t, f.confirm.prompts)
	assert.Contains(t, f.confirm.prompts[0], "quarantined")
}

func TestRestore_UnknownReference(t *testing.T) {
	f := newFixture(t)
	scenario(t, f)

	for _, ref := range []string{"does-not-exist", "", "latest-ish"} {
		_, err := f.restore(model.EnvProduction, ref)
		require.Error(t, err, ref)
		assert.True(t, IsNotFound(err), ref)
	}
	_, err := f.restore(model.EnvStaging, "latest")
	assert.True(t, IsNotFound(err))
	assert.Empty(t, f.confirm.prompts)
}

func TestRestore_EmptyBackupIsRefused(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AllowEmptyBackup = true })
	empty := f.backup(t, model.EnvDevelopment, model.KindManual).Record

	_, err := f.restore(model.EnvDevelopment, empty.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "captured no state")
}

func TestRestore_CorruptArtifact(t *testing.T) {
	f := newFixture(t)
	backupX, _, state50 := scenario(t, f)
	path := filepath.Join(f.archiveDir, filepath.FromSlash(backupX.ArtifactLocation))
	require.NoError(t, os.WriteFile(path, []byte(`{"resources": [}`), 0o640))

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, state50, f.current(t, model.EnvProduction))
}

func TestRestore_TamperedArtifact(t *testing.T) {
	f := newFixture(t)
	backupX, _, _ := scenario(t, f)
	path := filepath.Join(f.archiveDir, filepath.FromSlash(backupX.ArtifactLocation))
	require.NoError(t, os.WriteFile(path, stateJSON(1, "1.9.2", "other", 1), 0o640))

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.Contains(t, err.Error(), "checksum")
}

func TestRestore_MissingArtifact(t *testing.T) {
	f := newFixture(t)
	backupX, _, _ := scenario(t, f)
	require.NoError(t, f.archive.Delete(context.Background(), backupX.ArtifactLocation))

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRestore_WriteVerificationFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Store = truncatingStore{Store: d.Store} })
	backupX, _, _ := scenario(t, f)

	_, err := f.restore(model.EnvProduction, backupX.ID)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))

	// The pre-restore snapshot survives for recovery; no restore is recorded.
	pre := f.records(t, model.EnvProduction, model.KindPreRestore)
	require.Len(t, pre, 1)
	assert.Equal(t, 50, pre[0].ResourceCount)
	assert.Contains(t, err.Error(), pre[0].ID)
	assert.Empty(t, f.records(t, model.EnvProduction, model.KindRestore))
}

func TestRestore_CompatibilityWarnings(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.EnvStaging, stateJSON(3, "1.10.0", "lineage-a", 4))
	src := f.backup(t, model.EnvStaging, model.KindManual).Record
	f.put(t, model.EnvStaging, stateJSON(3, "1.9.0", "lineage-b", 9))

	res, err := f.restore(model.EnvStaging, src.ID)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 3)
	assert.Contains(t, res.Warnings[0], "newer")
	assert.Contains(t, res.Warnings[1], "lineage")
	assert.Contains(t, res.Warnings[2], "serial")
	assert.Contains(t, f.confirm.prompts[0], "WARNING")
}

func TestRestore_UnknownEnvironment(t *testing.T) {
	f := newFixture(t)

	_, err := f.restore("qa", "latest")
	require.True(t, IsNotFound(err))
}
