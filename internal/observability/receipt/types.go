// Package receipt writes audit evidence for every guarded mutation.
package receipt

// ReceiptSchemaVersion current
const ReceiptSchemaVersion = "1.0"

// Receipt structure
type Receipt struct {
	SchemaVersion string           `json:"schema_version"`
	OpID          string           `json:"op_id"`
	TsStart       string           `json:"ts_start"`
	TsEnd         string           `json:"ts_end"`
	Command       string           `json:"command"`
	Args          []string         `json:"args"`
	ArgsRedacted  bool             `json:"args_redacted,omitempty"`
	Result        Result           `json:"result"`
	PolicyFile    *PolicyFileRef   `json:"policy_file,omitempty"`
	Mutation      *MutationSummary `json:"mutation,omitempty"`
	Plan          *PlanSummary     `json:"plan,omitempty"`
	Backup        *BackupSummary   `json:"backup,omitempty"`
	Policy        *PolicySummary   `json:"policy,omitempty"`
}

// Result status
type Result struct {
	Status string `json:"status"` // "success" or "fail"
	Error  string `json:"error,omitempty"`
}

// PolicyFileRef pins the policy file that was enforced
type PolicyFileRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// MutationSummary mirrors a MutationOutcome without captured output
type MutationSummary struct {
	Kind          string   `json:"kind"`
	Action        string   `json:"action"`
	Argv          []string `json:"argv,omitempty"`
	Status        string   `json:"status"` // succeeded|blocked|failed|timed_out
	ErrorKind     string   `json:"error_kind,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Rule          string   `json:"rule,omitempty"`
	ExitCode      *int     `json:"exit_code,omitempty"`
	BytesAffected *uint64  `json:"bytes_affected,omitempty"`
	ItemsAffected *uint64  `json:"items_affected,omitempty"`
	Skipped       int      `json:"skipped,omitempty"`
	BackupID      string   `json:"backup_id,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
}

// PlanSummary detail
type PlanSummary struct {
	RootPath string `json:"root_path"`
	Pattern  string `json:"pattern"`
	Bytes    uint64 `json:"bytes"`
	Items    uint64 `json:"items"`
	Skipped  int    `json:"skipped"`
	Blocked  bool   `json:"blocked"`
}

// BackupSummary detail
type BackupSummary struct {
	Operation string `json:"operation"` // snapshot|restore|discard|retain
	ID        string `json:"id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`
	Removed   int    `json:"removed,omitempty"`
}

// PolicySummary detail
type PolicySummary struct {
	Preset   string    `json:"preset,omitempty"` // baseline|strict|custom
	Status   string    `json:"status"`           // allow|deny
	RulesHit []RuleHit `json:"rules_hit,omitempty"`
}

// RuleHit detail
type RuleHit struct {
	Name     string `json:"name"`
	Severity string `json:"severity"` // warn|error
	Message  string `json:"message,omitempty"`
}
