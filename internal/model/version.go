package model

import "time"

// BlobRef identifies one historical version of an environment's remote state.
type BlobRef struct {
	Environment  Environment `json:"environment"`
	VersionID    string      `json:"version_id"`
	LastModified time.Time   `json:"last_modified"`
	Size         int64       `json:"size"`
	IsLatest     bool        `json:"is_latest"`
}

// CatalogStats summarizes an environment's catalog.
type CatalogStats struct {
	Environment  Environment  `json:"environment"`
	Counts       map[Kind]int `json:"counts"`
	TotalBytes   int64        `json:"total_bytes"`
	OldestBackup *time.Time   `json:"oldest_backup,omitempty"`
	NewestBackup *time.Time   `json:"newest_backup,omitempty"`
	LastRestore  *time.Time   `json:"last_restore,omitempty"`
}
