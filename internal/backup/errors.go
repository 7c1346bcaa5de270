package backup

import "errors"

var (
	// ErrBackupFailed wraps every snapshot failure
	ErrBackupFailed = errors.New("backup failed")
	// ErrRecordNotFound no record with that ID in the index
	ErrRecordNotFound = errors.New("backup record not found")
	// ErrArtifactMissing the record exists but its artifact file is gone
	ErrArtifactMissing = errors.New("backup artifact missing")
	// ErrDigestMismatch the artifact does not hash to the recorded digest
	ErrDigestMismatch = errors.New("backup artifact digest mismatch")
	// ErrRestoreUnsupported restore points are rolled back through the OS
	ErrRestoreUnsupported = errors.New("restore not supported for this backup kind")
)
