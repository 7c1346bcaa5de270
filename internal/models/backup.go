package models

import "time"

// BackupKind enum
type BackupKind string

const (
	BackupRestorePoint   BackupKind = "restore_point"
	BackupRegistryExport BackupKind = "registry_export"
	BackupFileCopy       BackupKind = "file_copy"
)

// BackupRecord is one entry of the backup index. It doubles as the handle
// callers pass back to restore.
type BackupRecord struct {
	Kind         BackupKind `json:"kind"`
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	SourceRef    string     `json:"source_ref"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	Description  string     `json:"description,omitempty"`
	Size         int64      `json:"size,omitempty"`
	Digest       string     `json:"digest,omitempty"`
	Compressed   bool       `json:"compressed,omitempty"`
	Mode         uint32     `json:"mode,omitempty"`
}

// HasArtifact is false for restore points
func (r BackupRecord) HasArtifact() bool {
	return r.ArtifactPath != ""
}
