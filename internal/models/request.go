package models

import (
	"fmt"
	"strings"
	"time"
)

// RequestKind identifies the gate a request belongs to
type RequestKind string

const (
	KindCommand    RequestKind = "command"
	KindRegistry   RequestKind = "registry"
	KindService    RequestKind = "service"
	KindBulkDelete RequestKind = "bulk_delete"
)

// DefaultCommandTimeout applies when a CommandRequest carries no timeout.
const DefaultCommandTimeout = 60 * time.Second

// MutationRequest is implemented by CommandRequest, RegistryRequest,
// ServiceRequest and BulkDeleteRequest. Requests are passed by value and
// never modified once built.
type MutationRequest interface {
	Kind() RequestKind
	// Describe is a short human-readable action used in outcomes and logs.
	Describe() string
}

// CommandRequest runs one external program.
type CommandRequest struct {
	Argv          []string      `json:"argv"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	CaptureOutput bool          `json:"capture_output"`
}

// NewCommandRequest copies argv so the caller can reuse its slice.
func NewCommandRequest(argv []string, timeout time.Duration, capture bool) CommandRequest {
	cp := make([]string, len(argv))
	copy(cp, argv)
	return CommandRequest{Argv: cp, Timeout: timeout, CaptureOutput: capture}
}

func (CommandRequest) Kind() RequestKind { return KindCommand }

func (r CommandRequest) Describe() string {
	return "exec " + strings.Join(r.Argv, " ")
}

// EffectiveTimeout falls back to DefaultCommandTimeout
func (r CommandRequest) EffectiveTimeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultCommandTimeout
	}
	return r.Timeout
}

// RegistryOperation enum
type RegistryOperation string

const (
	RegistryAdd    RegistryOperation = "add"
	RegistryDelete RegistryOperation = "delete"
	RegistryQuery  RegistryOperation = "query"
)

// RegistryValueType enum; only the three types below may be written.
type RegistryValueType string

const (
	RegDWORD    RegistryValueType = "REG_DWORD"
	RegString   RegistryValueType = "REG_SZ"
	RegMultiStr RegistryValueType = "REG_MULTI_SZ"
)

// ParseRegistryValueType accepts REG_ names and friendly aliases.
func ParseRegistryValueType(s string) (RegistryValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reg_dword", "dword":
		return RegDWORD, nil
	case "reg_sz", "sz", "string":
		return RegString, nil
	case "reg_multi_sz", "multi_sz", "multi-string", "multistring":
		return RegMultiStr, nil
	default:
		return "", fmt.Errorf("unsupported registry value type %q (use REG_DWORD, REG_SZ or REG_MULTI_SZ)", s)
	}
}

// BackupMode controls snapshots taken before a destructive registry change
type BackupMode string

const (
	BackupNone       BackupMode = "none"
	BackupBestEffort BackupMode = "best_effort"
	BackupRequired   BackupMode = "required"
)

// ParseBackupMode from flag/config text
func ParseBackupMode(s string) (BackupMode, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "none":
		return BackupNone, nil
	case "best_effort":
		return BackupBestEffort, nil
	case "required":
		return BackupRequired, nil
	default:
		return "", fmt.Errorf("invalid backup mode: %s (use none, best-effort or required)", s)
	}
}

// RegistryRequest adds, deletes or queries a value at a key path.
// ValueName and ValueData are optional; empty means "not given".
type RegistryRequest struct {
	Operation RegistryOperation `json:"operation"`
	KeyPath   string            `json:"key_path"`
	ValueName string            `json:"value_name,omitempty"`
	ValueData string            `json:"value_data,omitempty"`
	ValueType RegistryValueType `json:"value_type,omitempty"`
	Backup    BackupMode        `json:"backup,omitempty"`
}

func (RegistryRequest) Kind() RequestKind { return KindRegistry }

func (r RegistryRequest) Describe() string {
	if r.ValueName != "" {
		return fmt.Sprintf("reg %s %s /v %s", r.Operation, r.KeyPath, r.ValueName)
	}
	return fmt.Sprintf("reg %s %s", r.Operation, r.KeyPath)
}

// ServiceAction enum
type ServiceAction string

const (
	ServiceStop    ServiceAction = "stop"
	ServiceStart   ServiceAction = "start"
	ServiceDisable ServiceAction = "disable"
)

// ServiceRequest changes the lifecycle of one service
type ServiceRequest struct {
	Action    ServiceAction `json:"action"`
	ServiceID string        `json:"service_id"`
}

func (ServiceRequest) Kind() RequestKind { return KindService }

func (r ServiceRequest) Describe() string {
	return fmt.Sprintf("service %s %s", r.Action, r.ServiceID)
}

// BulkDeleteRequest removes entries of RootPath whose name matches NamePattern.
type BulkDeleteRequest struct {
	RootPath    string `json:"root_path"`
	NamePattern string `json:"name_pattern"`
}

func (BulkDeleteRequest) Kind() RequestKind { return KindBulkDelete }

func (r BulkDeleteRequest) Describe() string {
	return fmt.Sprintf("delete %s (%s)", r.RootPath, r.Pattern())
}

// Pattern defaults to "*"
func (r BulkDeleteRequest) Pattern() string {
	if strings.TrimSpace(r.NamePattern) == "" {
		return "*"
	}
	return r.NamePattern
}
