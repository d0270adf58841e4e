package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/lock"
	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/statestore"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fixture wires the services against a local store, a filesystem archive
// and a file catalog, all rooted in temporary directories.
type fixture struct {
	store      *statestore.LocalStore
	storeDir   string
	archive    *archive.Filesystem
	archiveDir string
	catalog    *catalog.Catalog
	clock      *testclock.Clock
	confirm    *scriptedConfirm
	svc        *Services
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		storeDir:   t.TempDir(),
		archiveDir: t.TempDir(),
		clock:      testclock.NewClock(epoch),
		confirm:    &scriptedConfirm{answer: true},
	}
	f.store = statestore.NewLocalStore(f.storeDir)
	f.archive = archive.NewFilesystem(f.archiveDir)
	f.catalog = catalog.New(catalog.NewFileStore(t.TempDir()), f.archive, zerolog.Nop())

	d := Deps{
		Store:            f.store,
		Archive:          f.archive,
		Catalog:          f.catalog,
		Confirm:          f.confirm,
		Provenance:       staticProvenance{Operator: "ops@example.com", Revision: "abc1234", Branch: "main"},
		Policies:         StaticPolicy(model.DefaultRetentionPolicy()),
		Clock:            f.clock,
		Logger:           zerolog.Nop(),
		PruneAfterBackup: true,
	}
	for _, o := range opts {
		o(&d)
	}
	f.svc = NewServices(d)
	return f
}

// put replaces the remote state of env.
func (f *fixture) put(t *testing.T, env model.Environment, blob []byte) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), env, blob))
}

// backup advances the clock and runs a backup.
func (f *fixture) backup(t *testing.T, env model.Environment, kind model.Kind) *BackupResult {
	t.Helper()
	f.clock.Advance(time.Minute)
	res, err := f.svc.Backup.Backup(context.Background(), env, kind)
	require.NoError(t, err)
	return res
}

// restore advances the clock and runs a restore.
func (f *fixture) restore(env model.Environment, ref string) (*RestoreResult, error) {
	f.clock.Advance(time.Minute)
	return f.svc.Restore.Restore(context.Background(), env, ref)
}

func (f *fixture) records(t *testing.T, env model.Environment, kinds ...model.Kind) []model.Record {
	t.Helper()
	recs, err := f.catalog.Records(context.Background(), catalog.Filter{
		Environments: []model.Environment{env},
		Kinds:        kinds,
	})
	require.NoError(t, err)
	return recs
}

func (f *fixture) current(t *testing.T, env model.Environment) []byte {
	t.Helper()
	blob, err := f.store.Get(context.Background(), env)
	require.NoError(t, err)
	return blob
}

func (f *fixture) artifact(t *testing.T, rec model.Record) []byte {
	t.Helper()
	blob, err := f.archive.Read(context.Background(), rec.ArtifactLocation)
	require.NoError(t, err)
	return blob
}

// stateJSON renders a state document with n managed resources and one data source.
func stateJSON(n int, toolVersion, lineage string, serial int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `{"version": 4, "terraform_version": %q, "serial": %d, "lineage": %q, "resources": [`, toolVersion, serial, lineage)
	b.WriteString(`{"mode": "data", "type": "aws_caller_identity", "name": "current"}`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `, {"mode": "managed", "type": "aws_instance", "name": "web_%d"}`, i)
	}
	b.WriteString("]}\n")
	return []byte(b.String())
}

type staticProvenance model.Provenance

func (p staticProvenance) Provenance(context.Context) model.Provenance { return model.Provenance(p) }

// countingProvenance counts lookups; each one costs git invocations in production.
type countingProvenance struct {
	staticProvenance
	calls int
}

func (p *countingProvenance) Provenance(ctx context.Context) model.Provenance {
	p.calls++
	return p.staticProvenance.Provenance(ctx)
}

// scriptedConfirm answers every prompt with answer and remembers the prompts.
type scriptedConfirm struct {
	answer  bool
	err     error
	prompts []string
}

func (c *scriptedConfirm) Confirm(_ context.Context, prompt string) (bool, error) {
	c.prompts = append(c.prompts, prompt)
	return c.answer, c.err
}

// heldLocker refuses every lease.
type heldLocker struct{}

func (heldLocker) Acquire(context.Context, model.Environment) (lock.Lease, error) {
	return nil, fmt.Errorf("%w: held by someone else", lock.ErrHeld)
}

// countingLocker records acquisitions, refreshes and releases.
type countingLocker struct {
	acquired, refreshed, released int
}

func (l *countingLocker) Acquire(context.Context, model.Environment) (lock.Lease, error) {
	l.acquired++
	return countingLease{l}, nil
}

type countingLease struct{ l *countingLocker }

func (c countingLease) Refresh(context.Context) error {
	c.l.refreshed++
	return nil
}

func (c countingLease) Release(context.Context) error {
	c.l.released++
	return nil
}

// lostLocker grants leases that have already been taken over.
type lostLocker struct{ countingLocker }

func (l *lostLocker) Acquire(ctx context.Context, env model.Environment) (lock.Lease, error) {
	lease, err := l.countingLocker.Acquire(ctx, env)
	return lostLease{lease}, err
}

type lostLease struct{ lock.Lease }

func (lostLease) Refresh(context.Context) error {
	return fmt.Errorf("refresh lease: %w", lock.ErrLost)
}

// faultyArchive fails writes whose location contains failOn.
type faultyArchive struct {
	archive.Archive
	failOn string
}

func (a faultyArchive) Write(ctx context.Context, location string, blob []byte) error {
	if a.failOn != "" && strings.Contains(location, a.failOn) {
		return errors.New("disk full")
	}
	return a.Archive.Write(ctx, location, blob)
}

// truncatingStore silently stores only half of every blob it is given.
type truncatingStore struct {
	statestore.Store
}

func (s truncatingStore) Put(ctx context.Context, env model.Environment, blob []byte) error {
	return s.Store.Put(ctx, env, blob[:len(blob)/2])
}
