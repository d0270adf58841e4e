package model

import (
	"path"
	"time"
)

// Kind classifies a catalog record.
type Kind string

const (
	KindManual     Kind = "manual"
	KindScheduled  Kind = "scheduled"
	KindPreRestore Kind = "pre-restore"
	KindRestore    Kind = "restore"
)

// ParseKind validates a record kind name.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindManual, KindScheduled, KindPreRestore, KindRestore:
		return k, true
	}
	return "", false
}

// IsBackup reports whether records of this kind carry a state artifact.
func (k Kind) IsBackup() bool {
	return k == KindManual || k == KindScheduled || k == KindPreRestore
}

// Record is one catalog entry. Backup kinds (manual, scheduled, pre-restore)
// describe an archived state artifact; restore records describe an overwrite of
// the remote state and reference the source and pre-restore backups.
//
// Records are immutable once appended. Seq is assigned by the catalog and breaks
// timestamp ties in insertion order.
type Record struct {
	ID               string      `json:"id"`
	Environment      Environment `json:"environment"`
	Timestamp        time.Time   `json:"timestamp"`
	Kind             Kind        `json:"kind"`
	ArtifactLocation string      `json:"artifact_location,omitempty"`
	ByteSize         int64       `json:"byte_size"`
	ResourceCount    int         `json:"resource_count"`
	ToolVersion      string      `json:"tool_version"`
	Serial           int64       `json:"serial,omitempty"`
	Lineage          string      `json:"lineage,omitempty"`
	Checksum         string      `json:"checksum,omitempty"`
	Operator         string      `json:"operator,omitempty"`
	Revision         string      `json:"revision,omitempty"`
	Branch           string      `json:"branch,omitempty"`
	Note             string      `json:"note,omitempty"`
	Seq              int64       `json:"seq"`

	SourceBackupRef     string `json:"source_backup_ref,omitempty"`
	PreRestoreBackupRef string `json:"pre_restore_backup_ref,omitempty"`
}

// IsBackup reports whether r is a BackupRecord.
func (r Record) IsBackup() bool { return r.Kind.IsBackup() }

// IsRestore reports whether r is a RestoreRecord.
func (r Record) IsRestore() bool { return r.Kind == KindRestore }

// IsEmpty reports whether r is a backup that captured no state (absent or
// quarantined remote state).
func (r Record) IsEmpty() bool { return r.IsBackup() && r.ArtifactLocation == "" }

// CountsTowardRetention reports whether r is bounded by the environment keep count.
func (r Record) CountsTowardRetention() bool {
	return r.Kind == KindManual || r.Kind == KindScheduled
}

// ShortID returns the first eight characters of the record ID.
func (r Record) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// Timestamps are stored with microsecond precision so that file and postgres
// catalogs round-trip identically.
const TimestampPrecision = time.Microsecond

// artifactTimeLayout is sortable and filesystem-safe.
const artifactTimeLayout = "20060102T150405.000000Z"

// ArtifactLocation returns the archive-relative location of a backup artifact.
func ArtifactLocation(env Environment, ts time.Time, kind Kind) string {
	return path.Join(string(env), ts.UTC().Format(artifactTimeLayout)+"-"+string(kind)+".tfstate")
}

// QuarantineLocation returns where unverifiable remote state is parked before a restore.
func QuarantineLocation(env Environment, ts time.Time) string {
	return path.Join(string(env), "quarantine", ts.UTC().Format(artifactTimeLayout)+".tfstate")
}

// LatestReference names the most recent record produced for an environment.
// Operations return it instead of maintaining a shared pointer file.
type LatestReference struct {
	Environment Environment `json:"environment"`
	RecordID    string      `json:"record_id"`
}
