package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/policy"
)

// colors
const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorReset  = "\033[0m"
)

// Exit codes
const (
	exitFailed  = 1
	exitBlocked = 2
)

// writeJSON pretty-prints v
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outcomeJSON is the --json shape of an outcome
type outcomeJSON struct {
	models.MutationOutcome
	BytesHuman string `json:"bytes_human,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// printOutcome writes the outcome and converts a non-success into an
// ExitError.
func printOutcome(w io.Writer, out models.MutationOutcome) error {
	if jsonOutput {
		o := outcomeJSON{MutationOutcome: out, DurationMs: out.Duration.Milliseconds()}
		if out.BytesAffected != nil {
			o.BytesHuman = humanize.Bytes(*out.BytesAffected)
		}
		if err := writeJSON(w, o); err != nil {
			return err
		}
	} else {
		fmt.Fprint(w, FormatOutcome(out))
	}
	return outcomeExit(out)
}

func outcomeExit(out models.MutationOutcome) error {
	switch out.Status {
	case models.StatusSucceeded:
		return nil
	case models.StatusBlocked:
		return &ExitError{Code: exitBlocked, Err: fmt.Errorf("blocked: %s", out.Reason)}
	default:
		return &ExitError{Code: exitFailed, Err: fmt.Errorf("%s (%s): %s", out.Status, out.Kind, out.Reason)}
	}
}

// FormatOutcome human readable
func FormatOutcome(out models.MutationOutcome) string {
	var sb strings.Builder

	switch out.Status {
	case models.StatusSucceeded:
		if out.Kind == models.ErrKindPartialSuccess {
			sb.WriteString(fmt.Sprintf("%s✓ PARTIAL%s %s\n", colorYellow, colorReset, out.Action))
		} else {
			sb.WriteString(fmt.Sprintf("%s✓ OK%s %s\n", colorGreen, colorReset, out.Action))
		}
	case models.StatusBlocked:
		sb.WriteString(fmt.Sprintf("%s✗ BLOCKED%s %s\n", colorRed, colorReset, out.Action))
	case models.StatusTimedOut:
		sb.WriteString(fmt.Sprintf("%s✗ TIMED OUT%s %s\n", colorRed, colorReset, out.Action))
	default:
		sb.WriteString(fmt.Sprintf("%s✗ FAILED%s %s\n", colorRed, colorReset, out.Action))
	}

	if out.Rule != "" {
		sb.WriteString(fmt.Sprintf("  rule:    %s\n", out.Rule))
	}
	if out.Reason != "" {
		sb.WriteString(fmt.Sprintf("  reason:  %s\n", out.Reason))
	}
	if out.Kind != models.ErrKindNone && out.Kind != models.ErrKindPolicyBlocked {
		sb.WriteString(fmt.Sprintf("  kind:    %s\n", out.Kind))
	}
	if out.ExitCode != nil && *out.ExitCode != 0 {
		sb.WriteString(fmt.Sprintf("  exit:    %d\n", *out.ExitCode))
	}
	if out.BytesAffected != nil {
		items := uint64(0)
		if out.ItemsAffected != nil {
			items = *out.ItemsAffected
		}
		sb.WriteString(fmt.Sprintf("  removed: %s in %s items\n", humanize.Bytes(*out.BytesAffected), humanize.Comma(int64(items))))
	}
	if out.Skipped > 0 {
		sb.WriteString(fmt.Sprintf("  skipped: %d\n", out.Skipped))
	}
	if out.Backup != nil {
		sb.WriteString(fmt.Sprintf("  backup:  %s (%s)\n", out.Backup.ID, out.Backup.Kind))
	}
	if out.BackupError != "" {
		sb.WriteString(fmt.Sprintf("  %sbackup error:%s %s\n", colorYellow, colorReset, out.BackupError))
	}
	if out.Stdout != nil && strings.TrimSpace(*out.Stdout) != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(*out.Stdout, "\r\n"))
		sb.WriteString("\n")
	}
	if out.Status != models.StatusSucceeded && out.Stderr != nil && strings.TrimSpace(*out.Stderr) != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(*out.Stderr, "\r\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatPlan human readable
func FormatPlan(plan models.DeletionPlan) string {
	var sb strings.Builder
	if plan.Blocked {
		sb.WriteString(fmt.Sprintf("%s✗ BLOCKED%s %s (%s)\n", colorRed, colorReset, plan.RootPath, plan.Pattern))
		sb.WriteString(fmt.Sprintf("  reason:  %s\n", plan.Reason))
		return sb.String()
	}
	if plan.Reason != "" {
		sb.WriteString(fmt.Sprintf("%s✗ INVALID%s %s: %s\n", colorRed, colorReset, plan.RootPath, plan.Reason))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("%sPlan:%s %s (%s)\n", colorBold, colorReset, plan.RootPath, plan.Pattern))
	sb.WriteString(fmt.Sprintf("  would free: %s\n", humanize.Bytes(plan.Bytes)))
	sb.WriteString(fmt.Sprintf("  items:      %s\n", humanize.Comma(int64(plan.Items))))
	if plan.Skipped > 0 {
		sb.WriteString(fmt.Sprintf("  skipped:    %d\n", plan.Skipped))
	}
	return sb.String()
}

// FormatRecords renders the backup index as a table, oldest first
func FormatRecords(records []models.BackupRecord, now time.Time) string {
	if len(records) == 0 {
		return "No backups recorded.\n"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s  %-15s  %-14s  %8s  %s\n", "ID", "KIND", "CREATED", "SIZE", "SOURCE"))
	for _, r := range records {
		size := "-"
		if r.HasArtifact() {
			size = humanize.Bytes(uint64(r.Size))
		}
		sb.WriteString(fmt.Sprintf("%-36s  %-15s  %-14s  %8s  %s\n",
			r.ID, r.Kind, humanize.RelTime(r.CreatedAt, now, "ago", "from now"), size, r.SourceRef))
	}
	return sb.String()
}

// FormatChanges renders a policy diff grouped by severity
func FormatChanges(changes []policy.Change) string {
	if len(changes) == 0 {
		return fmt.Sprintf("%s✓ No effective policy changes%s\n", colorGreen, colorReset)
	}
	var sb strings.Builder
	groups := map[policy.Severity][]policy.Change{}
	for _, c := range changes {
		groups[c.Severity] = append(groups[c.Severity], c)
	}
	section := func(sev policy.Severity, title, color string) {
		if len(groups[sev]) == 0 {
			return
		}
		sb.WriteString(fmt.Sprintf("%s%s (%d)%s\n", color, title, len(groups[sev]), colorReset))
		for _, c := range groups[sev] {
			sb.WriteString(fmt.Sprintf("  - %s\n", c.Message))
		}
		sb.WriteString("\n")
	}
	section(policy.SeverityLoosened, "LOOSENED", colorRed)
	section(policy.SeverityTightened, "TIGHTENED", colorGreen)
	section(policy.SeverityInfo, "INFO", "")
	return sb.String()
}

// FailOnLevel threshold for policy diff
type FailOnLevel string

const (
	FailOnNever     FailOnLevel = "never"
	FailOnLoosened  FailOnLevel = "loosened"
	FailOnTightened FailOnLevel = "tightened"
	FailOnAny       FailOnLevel = "any"
)

// ParseFailOnLevel from string
func ParseFailOnLevel(s string) (FailOnLevel, error) {
	switch strings.ToLower(s) {
	case "never":
		return FailOnNever, nil
	case "loosened":
		return FailOnLoosened, nil
	case "tightened":
		return FailOnTightened, nil
	case "any":
		return FailOnAny, nil
	default:
		return "", fmt.Errorf("invalid fail-on level: %s (use never, loosened, tightened or any)", s)
	}
}

// ShouldFail checks limits
func (f FailOnLevel) ShouldFail(severity policy.Severity) bool {
	switch f {
	case FailOnNever:
		return false
	case FailOnLoosened:
		return severity == policy.SeverityLoosened
	case FailOnTightened:
		return severity >= policy.SeverityTightened
	case FailOnAny:
		return true
	default:
		return severity == policy.SeverityLoosened
	}
}
