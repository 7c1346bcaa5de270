package gate

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/runner"
)

// Snapshotter is the slice of the backup manager the gates use
type Snapshotter interface {
	SnapshotRegistryKey(ctx context.Context, keyPath string) (models.BackupRecord, error)
	SnapshotRestorePoint(ctx context.Context, description string) (models.BackupRecord, error)
}

// RegistryGate performs one reg.exe operation
type RegistryGate struct {
	policy  Decider
	exec    runner.Executor
	backups Snapshotter
	clock   clock
}

// NewRegistryGate builds a gate. backups may be nil when no backup store is
// configured; deletes that require a backup then fail.
func NewRegistryGate(p Decider, exec runner.Executor, backups Snapshotter) *RegistryGate {
	return &RegistryGate{policy: p, exec: exec, backups: backups}
}

// Execute validates, checks policy, snapshots when asked and runs reg.exe.
func (g *RegistryGate) Execute(ctx context.Context, req models.RegistryRequest) models.MutationOutcome {
	b := begin(g.clock, req)

	if strings.TrimSpace(req.KeyPath) == "" {
		return b.failed(ctx, models.ErrKindValidation, "registry key path is empty")
	}
	switch req.Operation {
	case models.RegistryAdd, models.RegistryDelete, models.RegistryQuery:
	default:
		return b.failed(ctx, models.ErrKindValidation, fmt.Sprintf("unknown registry operation %q", req.Operation))
	}
	valueType := models.RegDWORD
	if req.Operation == models.RegistryAdd {
		vt, err := models.ParseRegistryValueType(string(req.ValueType))
		if err != nil {
			return b.failed(ctx, models.ErrKindValidation, err.Error())
		}
		valueType = vt
	}

	if d := g.policy.Decide(ctx, req); !d.Allowed {
		return b.blocked(ctx, d)
	}

	if req.Operation == models.RegistryDelete && req.Backup != models.BackupNone && req.Backup != "" {
		if out, stop := g.snapshot(ctx, b, req); stop {
			return out
		}
	}

	argv := RegistryArgv(req, valueType)
	res, err := g.exec.Run(ctx, runner.Spec{Argv: argv, Timeout: models.DefaultCommandTimeout, CaptureOutput: true})
	if err != nil {
		return b.spawnFailure(ctx, argv[0], err)
	}
	if res.TimedOut {
		return b.timedOut(ctx, models.DefaultCommandTimeout)
	}
	b.out.ExitCode = models.IntPtr(res.ExitCode)

	if res.ExitCode != 0 {
		b.out.Stderr = models.StringPtr(res.Stderr)
		switch {
		case isRegistryNotFound(res):
			return b.failed(ctx, models.ErrKindNotFound, fmt.Sprintf("registry key or value not found: %s", describeTarget(req)))
		case isAccessDenied(res):
			return b.failed(ctx, models.ErrKindPermissionDenied, exitReason(res))
		default:
			return b.failed(ctx, models.ErrKindExec, exitReason(res))
		}
	}

	if req.Operation == models.RegistryQuery {
		values := ParseQueryOutput(res.Stdout)
		if req.ValueName == "" {
			b.out.Stdout = models.StringPtr(strings.TrimSpace(res.Stdout))
			return b.succeeded("")
		}
		for _, v := range values {
			if strings.EqualFold(v.Name, req.ValueName) {
				b.out.Stdout = models.StringPtr(v.Data)
				return b.succeeded(string(v.Type))
			}
		}
		return b.failed(ctx, models.ErrKindNotFound, fmt.Sprintf("registry key or value not found: %s", describeTarget(req)))
	}
	return b.succeeded("")
}

// snapshot exports the key before a delete. stop reports that the outcome is
// final (required backup failed).
func (g *RegistryGate) snapshot(ctx context.Context, b *outcomeBuilder, req models.RegistryRequest) (models.MutationOutcome, bool) {
	if g.backups == nil {
		if req.Backup == models.BackupRequired {
			b.out.BackupError = "no backup store configured"
			return b.failed(ctx, models.ErrKindBackupFailed, "backup required but no backup store is configured"), true
		}
		b.out.BackupError = "no backup store configured"
		return models.MutationOutcome{}, false
	}

	rec, err := g.backups.SnapshotRegistryKey(ctx, req.KeyPath)
	if err != nil {
		b.out.BackupError = err.Error()
		if req.Backup == models.BackupRequired {
			return b.failed(ctx, models.ErrKindBackupFailed, "backup required before delete: "+err.Error()), true
		}
		return models.MutationOutcome{}, false
	}
	b.out.Backup = &rec
	return models.MutationOutcome{}, false
}

// RegistryArgv builds the reg.exe argv for a request
func RegistryArgv(req models.RegistryRequest, valueType models.RegistryValueType) []string {
	argv := []string{"reg", string(req.Operation), req.KeyPath}
	switch req.Operation {
	case models.RegistryAdd:
		if req.ValueName != "" {
			argv = append(argv, "/v", req.ValueName)
		}
		if req.ValueData != "" {
			argv = append(argv, "/d", req.ValueData)
		}
		argv = append(argv, "/t", string(valueType), "/f")
	case models.RegistryDelete:
		if req.ValueName != "" {
			argv = append(argv, "/v", req.ValueName)
		}
		argv = append(argv, "/f")
	case models.RegistryQuery:
		if req.ValueName != "" {
			argv = append(argv, "/v", req.ValueName)
		}
	}
	return argv
}

func describeTarget(req models.RegistryRequest) string {
	if req.ValueName == "" {
		return req.KeyPath
	}
	return req.KeyPath + " /v " + req.ValueName
}

func isRegistryNotFound(res runner.Result) bool {
	return containsFold(res.Stderr+" "+res.Stdout, "unable to find")
}

// RegistryValue is one line of `reg query` output
type RegistryValue struct {
	Key  string
	Name string
	Type models.RegistryValueType
	Data string
}

// ParseQueryOutput reads `reg query` output: a key line followed by
// indented "name    TYPE    data" lines. The default value is reported with
// an empty name.
func ParseQueryOutput(out string) []RegistryValue {
	var values []RegistryValue
	key := ""
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			key = strings.TrimSpace(line)
			continue
		}
		fields := splitRegFields(strings.TrimSpace(line))
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "REG_") {
			continue
		}
		v := RegistryValue{Key: key, Name: fields[0], Type: models.RegistryValueType(fields[1])}
		if v.Name == "(Default)" {
			v.Name = ""
		}
		if len(fields) > 2 {
			v.Data = fields[2]
		}
		values = append(values, v)
	}
	return values
}

// splitRegFields splits on runs of 4 spaces (reg.exe's column separator) so
// names and data with single spaces survive.
func splitRegFields(line string) []string {
	parts := strings.Split(line, "    ")
	fields := make([]string, 0, 3)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields = append(fields, p)
	}
	if len(fields) > 3 {
		fields = append(fields[:2], strings.Join(fields[2:], "    "))
	}
	return fields
}
