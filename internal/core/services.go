// Package core implements the backup, restore, retention and verification
// operations over a remote state store, an archive and a catalog.
package core

import (
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/lock"
	"github.com/edvin/statekeeper/internal/statestore"
)

// Deps are the collaborators shared by the services.
type Deps struct {
	Store      statestore.Store
	Archive    archive.Archive
	Catalog    *catalog.Catalog
	Locker     lock.Locker
	Confirm    confirm.Provider
	Provenance ProvenanceSource
	Policies   PolicySource
	Clock      clock.Clock
	Logger     zerolog.Logger

	// AllowEmptyBackup records an empty backup instead of failing when an
	// environment has no remote state.
	AllowEmptyBackup bool
	// PruneAfterBackup applies retention after every manual and scheduled backup.
	PruneAfterBackup bool
}

func (d Deps) clock() clock.Clock {
	if d.Clock == nil {
		return clock.WallClock
	}
	return d.Clock
}

// Services groups the operations built from one set of Deps. Restore takes
// its pre-restore snapshots through Backup, which prunes through Retention.
type Services struct {
	Backup    *BackupService
	Restore   *RestoreService
	Retention *RetentionService
	Sweep     *SweepService
}

// NewServices wires every service from d.
func NewServices(d Deps) *Services {
	retention := NewRetentionService(d)
	backup := NewBackupService(d, retention)
	return &Services{
		Backup:    backup,
		Restore:   NewRestoreService(d, backup),
		Retention: retention,
		Sweep:     NewSweepService(d),
	}
}
