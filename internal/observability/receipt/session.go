package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability"
)

// MaxErrorLength is the maximum length for error strings in receipts.
const MaxErrorLength = 2048

// Session tracks command execution
type Session struct {
	ctx     context.Context
	start   time.Time
	command string
	args    []string
}

// Start session
func Start(ctx context.Context, cmd string, args []string) *Session {
	return &Session{
		ctx:     ctx,
		start:   time.Now(),
		command: cmd,
		args:    args,
	}
}

// Option configures receipt
type Option func(*Receipt)

// WithPolicyFile records the enforced policy file and its digest
func WithPolicyFile(path string) Option {
	return func(r *Receipt) {
		if path == "" {
			return
		}
		ref := &PolicyFileRef{Path: path}
		if hash, err := computeSHA256(path); err == nil {
			ref.SHA256 = hash
		}
		r.PolicyFile = ref
	}
}

// WithOutcome records a gate outcome. Command argv is redacted.
func WithOutcome(req models.MutationRequest, out models.MutationOutcome) Option {
	return func(r *Receipt) {
		m := &MutationSummary{
			Kind:          string(req.Kind()),
			Action:        out.Action,
			Status:        string(out.Status),
			ErrorKind:     string(out.Kind),
			Reason:        truncateError(out.Reason),
			Rule:          out.Rule,
			ExitCode:      out.ExitCode,
			BytesAffected: out.BytesAffected,
			ItemsAffected: out.ItemsAffected,
			Skipped:       out.Skipped,
			DurationMs:    out.Duration.Milliseconds(),
		}
		if cmd, ok := req.(models.CommandRequest); ok {
			argv, redacted := RedactArgs(cmd.Argv)
			m.Argv = argv
			m.Action = "exec " + strings.Join(argv, " ")
			if redacted {
				r.ArgsRedacted = true
			}
		}
		if out.Backup != nil {
			m.BackupID = out.Backup.ID
		}
		r.Mutation = m
	}
}

// WithPlan records a dry-run deletion plan
func WithPlan(p models.DeletionPlan) Option {
	return func(r *Receipt) {
		r.Plan = &PlanSummary{
			RootPath: p.RootPath,
			Pattern:  p.Pattern,
			Bytes:    p.Bytes,
			Items:    p.Items,
			Skipped:  p.Skipped,
			Blocked:  p.Blocked,
		}
	}
}

// WithBackup records a backup manager operation
func WithBackup(operation string, rec *models.BackupRecord, removed int) Option {
	return func(r *Receipt) {
		b := &BackupSummary{Operation: operation, Removed: removed}
		if rec != nil {
			b.ID = rec.ID
			b.Kind = string(rec.Kind)
			b.SourceRef = rec.SourceRef
		}
		r.Backup = b
	}
}

// WithPolicy option
func WithPolicy(preset, status string, hits []RuleHit) Option {
	return func(r *Receipt) {
		r.Policy = &PolicySummary{
			Preset:   preset,
			Status:   status,
			RulesHit: hits,
		}
	}
}

// Finish and write receipt
func (s *Session) Finish(err error, opts ...Option) error {
	if !Enabled(s.ctx) {
		return nil
	}

	redactedArgs, wasRedacted := RedactArgs(s.args)

	r := Receipt{
		SchemaVersion: ReceiptSchemaVersion,
		OpID:          observability.OpID(s.ctx),
		TsStart:       s.start.Format(time.RFC3339Nano),
		TsEnd:         time.Now().Format(time.RFC3339Nano),
		Command:       s.command,
		Args:          redactedArgs,
		ArgsRedacted:  wasRedacted,
	}

	if err != nil {
		r.Result = Result{
			Status: "fail",
			Error:  truncateError(err.Error()),
		}
	} else {
		r.Result = Result{
			Status: "success",
		}
	}

	for _, opt := range opts {
		opt(&r)
	}

	return record(s.ctx, r)
}

// computeSHA256 helper
func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// truncateError helper
func truncateError(s string) string {
	if len(s) <= MaxErrorLength {
		return s
	}
	return s[:MaxErrorLength-3] + "..."
}
