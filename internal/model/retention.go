package model

// DefaultKeepCount is the retention applied when an environment has no override.
const DefaultKeepCount = 10

// RetentionPolicy bounds the backups kept for one environment. KeepCount
// applies to manual and scheduled backups, PreRestoreKeep to pre-restore
// snapshots. Restore records are never pruned.
type RetentionPolicy struct {
	KeepCount      int `json:"keep_count" yaml:"keep_count"`
	PreRestoreKeep int `json:"pre_restore_keep" yaml:"pre_restore_keep"`
}

// DefaultRetentionPolicy keeps DefaultKeepCount of each backup class.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{KeepCount: DefaultKeepCount, PreRestoreKeep: DefaultKeepCount}
}
