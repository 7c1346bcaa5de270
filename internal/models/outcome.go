package models

import "time"

// OutcomeStatus enum
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusBlocked   OutcomeStatus = "blocked"
	StatusFailed    OutcomeStatus = "failed"
	StatusTimedOut  OutcomeStatus = "timed_out"
)

// ErrorKind classifies why an outcome is not a plain success
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindPolicyBlocked    ErrorKind = "policy_blocked"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindPermissionDenied ErrorKind = "permission_denied"
	ErrKindPartialSuccess   ErrorKind = "partial_success"
	ErrKindBackupFailed     ErrorKind = "backup_failed"
	ErrKindValidation       ErrorKind = "validation"
	ErrKindExec             ErrorKind = "exec_error"
)

// MutationOutcome is the single result of one gate call. Optional fields are
// nil when they do not apply to the request kind.
type MutationOutcome struct {
	RequestKind   RequestKind   `json:"request_kind"`
	Action        string        `json:"action"`
	Status        OutcomeStatus `json:"status"`
	Kind          ErrorKind     `json:"error_kind,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Rule          string        `json:"rule,omitempty"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	Stdout        *string       `json:"stdout,omitempty"`
	Stderr        *string       `json:"stderr,omitempty"`
	BytesAffected *uint64       `json:"bytes_affected,omitempty"`
	ItemsAffected *uint64       `json:"items_affected,omitempty"`
	Skipped       int           `json:"skipped,omitempty"`
	Backup        *BackupRecord `json:"backup,omitempty"`
	BackupError   string        `json:"backup_error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// Blocked reports a policy denial
func (o MutationOutcome) Blocked() bool { return o.Status == StatusBlocked }

// Succeeded reports plain or partial success
func (o MutationOutcome) Succeeded() bool { return o.Status == StatusSucceeded }

// IntPtr helper for optional outcome fields
func IntPtr(v int) *int { return &v }

// StringPtr helper
func StringPtr(v string) *string { return &v }

// Uint64Ptr helper
func Uint64Ptr(v uint64) *uint64 { return &v }

// DeletionPlan dry-run totals for a bulk delete target
type DeletionPlan struct {
	RootPath string `json:"root_path"`
	Pattern  string `json:"pattern"`
	Bytes    uint64 `json:"bytes"`
	Items    uint64 `json:"items"`
	Skipped  int    `json:"skipped"`
	Blocked  bool   `json:"blocked"`
	Reason   string `json:"reason,omitempty"`
}
