package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/policy"
)

func TestParseFailOnLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  FailOnLevel
		shouldErr bool
	}{
		{"never", FailOnNever, false},
		{"loosened", FailOnLoosened, false},
		{"LOOSENED", FailOnLoosened, false},
		{"tightened", FailOnTightened, false},
		{"Any", FailOnAny, false},
		{"critical", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFailOnLevel(tt.input)
			if tt.shouldErr && err == nil {
				t.Errorf("ParseFailOnLevel(%q) expected error, got nil", tt.input)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("ParseFailOnLevel(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseFailOnLevel(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFailOnLevel_ShouldFail(t *testing.T) {
	tests := []struct {
		level    FailOnLevel
		severity policy.Severity
		expected bool
	}{
		{FailOnNever, policy.SeverityLoosened, false},
		{FailOnLoosened, policy.SeverityLoosened, true},
		{FailOnLoosened, policy.SeverityTightened, false},
		{FailOnLoosened, policy.SeverityInfo, false},
		{FailOnTightened, policy.SeverityLoosened, true},
		{FailOnTightened, policy.SeverityTightened, true},
		{FailOnTightened, policy.SeverityInfo, false},
		{FailOnAny, policy.SeverityInfo, true},
	}

	for _, tt := range tests {
		name := string(tt.level) + "_" + tt.severity.String()
		t.Run(name, func(t *testing.T) {
			if got := tt.level.ShouldFail(tt.severity); got != tt.expected {
				t.Errorf("ShouldFail(%v) = %v, want %v", tt.severity, got, tt.expected)
			}
		})
	}
}

func TestFormatOutcome(t *testing.T) {
	tests := []struct {
		name     string
		out      models.MutationOutcome
		contains []string
		absent   []string
	}{
		{
			name: "succeeded",
			out: models.MutationOutcome{
				Action: "exec ipconfig /flushdns",
				Status: models.StatusSucceeded,
				Stdout: models.StringPtr("Successfully flushed the DNS Resolver Cache.\r\n"),
			},
			contains: []string{"✓ OK", "exec ipconfig /flushdns", "Successfully flushed"},
			absent:   []string{"kind:"},
		},
		{
			name: "partial",
			out: models.MutationOutcome{
				Action:        `delete C:\Windows\Temp (*)`,
				Status:        models.StatusSucceeded,
				Kind:          models.ErrKindPartialSuccess,
				BytesAffected: models.Uint64Ptr(1500000),
				ItemsAffected: models.Uint64Ptr(1234),
				Skipped:       2,
			},
			contains: []string{"PARTIAL", "1.5 MB", "1,234 items", "skipped: 2"},
		},
		{
			name: "blocked",
			out: models.MutationOutcome{
				Action: "service stop BITS",
				Status: models.StatusBlocked,
				Kind:   models.ErrKindPolicyBlocked,
				Rule:   "critical_service",
				Reason: "service BITS is critical and cannot be stopped",
			},
			contains: []string{"BLOCKED", "rule:    critical_service", "cannot be stopped"},
			absent:   []string{"kind:"},
		},
		{
			name: "failed with backup error",
			out: models.MutationOutcome{
				Action:      `reg delete HKCU\Software\X`,
				Status:      models.StatusFailed,
				Kind:        models.ErrKindNotFound,
				ExitCode:    models.IntPtr(1),
				Stderr:      models.StringPtr("ERROR: The system was unable to find the specified registry key or value."),
				BackupError: "reg exited 1",
			},
			contains: []string{"FAILED", "kind:    not_found", "exit:    1", "backup error:", "unable to find"},
		},
		{
			name: "timed out",
			out: models.MutationOutcome{
				Action: "exec chkdsk C:",
				Status: models.StatusTimedOut,
				Kind:   models.ErrKindTimeout,
			},
			contains: []string{"TIMED OUT", "kind:    timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatOutcome(tt.out)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(got, bad) {
					t.Errorf("output should not contain %q:\n%s", bad, got)
				}
			}
		})
	}
}

func TestFormatOutcome_SucceededHidesStderr(t *testing.T) {
	got := FormatOutcome(models.MutationOutcome{
		Action: "exec sfc /scannow",
		Status: models.StatusSucceeded,
		Stderr: models.StringPtr("progress noise"),
	})
	if strings.Contains(got, "progress noise") {
		t.Errorf("stderr of a successful run should not be printed:\n%s", got)
	}
}

func TestOutcomeExit(t *testing.T) {
	tests := []struct {
		status models.OutcomeStatus
		code   int
	}{
		{models.StatusSucceeded, 0},
		{models.StatusBlocked, exitBlocked},
		{models.StatusFailed, exitFailed},
		{models.StatusTimedOut, exitFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			err := outcomeExit(models.MutationOutcome{Status: tt.status, Reason: "r"})
			if tt.code == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var exitErr *ExitError
			if !errors.As(err, &exitErr) {
				t.Fatalf("expected *ExitError, got %v", err)
			}
			if exitErr.Code != tt.code {
				t.Errorf("code = %d, want %d", exitErr.Code, tt.code)
			}
		})
	}
}

func TestPrintOutcome_JSON(t *testing.T) {
	old := jsonOutput
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = old })

	var buf bytes.Buffer
	err := printOutcome(&buf, models.MutationOutcome{
		RequestKind:   models.KindBulkDelete,
		Status:        models.StatusSucceeded,
		BytesAffected: models.Uint64Ptr(2048),
		Duration:      1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("printOutcome: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["status"] != "succeeded" {
		t.Errorf("status = %v", got["status"])
	}
	if got["bytes_human"] != "2.0 kB" {
		t.Errorf("bytes_human = %v, want 2.0 kB", got["bytes_human"])
	}
	if got["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms = %v, want 1500", got["duration_ms"])
	}
}

func TestFormatPlan(t *testing.T) {
	got := FormatPlan(models.DeletionPlan{RootPath: `C:\Windows\Temp`, Pattern: "*", Bytes: 6, Items: 2, Skipped: 1})
	for _, want := range []string{"Plan:", "6 B", "items:      2", "skipped:    1"} {
		if !strings.Contains(got, want) {
			t.Errorf("plan output missing %q:\n%s", want, got)
		}
	}

	blocked := FormatPlan(models.DeletionPlan{RootPath: `C:\Windows\System32`, Pattern: "*", Blocked: true, Reason: "protected"})
	if !strings.Contains(blocked, "BLOCKED") || strings.Contains(blocked, "would free") {
		t.Errorf("blocked plan output:\n%s", blocked)
	}

	invalid := FormatPlan(models.DeletionPlan{RootPath: "x", Pattern: "[a-", Reason: "invalid pattern"})
	if !strings.Contains(invalid, "INVALID") {
		t.Errorf("invalid plan output:\n%s", invalid)
	}
}

func TestFormatRecords(t *testing.T) {
	if got := FormatRecords(nil, time.Now()); !strings.Contains(got, "No backups") {
		t.Errorf("empty index output: %q", got)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := FormatRecords([]models.BackupRecord{
		{ID: "rp-1", Kind: models.BackupRestorePoint, CreatedAt: now.Add(-2 * time.Hour), SourceRef: "system"},
		{ID: "f-1", Kind: models.BackupFileCopy, CreatedAt: now.Add(-3 * 24 * time.Hour), SourceRef: `C:\hosts`, ArtifactPath: "artifacts/f-1.zst", Size: 2048},
	}, now)

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[1], "2 hours ago") || !strings.Contains(lines[1], " - ") {
		t.Errorf("restore point row: %q", lines[1])
	}
	if !strings.Contains(lines[2], "3 days ago") || !strings.Contains(lines[2], "2.0 kB") {
		t.Errorf("file row: %q", lines[2])
	}
}

func TestFormatChanges(t *testing.T) {
	if got := FormatChanges(nil); !strings.Contains(got, "No effective policy changes") {
		t.Errorf("empty diff output: %q", got)
	}

	got := FormatChanges([]policy.Change{
		{Message: "critical service wuauserv removed", Severity: policy.SeverityLoosened},
		{Message: "rule no_shell_interpreters added", Severity: policy.SeverityTightened},
		{Message: "rule bounded_timeout message changed", Severity: policy.SeverityInfo},
	})
	loosened := strings.Index(got, "LOOSENED (1)")
	tightened := strings.Index(got, "TIGHTENED (1)")
	info := strings.Index(got, "INFO (1)")
	if loosened < 0 || tightened < 0 || info < 0 {
		t.Fatalf("missing section:\n%s", got)
	}
	if !(loosened < tightened && tightened < info) {
		t.Errorf("sections out of order:\n%s", got)
	}
}

func TestFormatPreset(t *testing.T) {
	cfg := policy.GetPreset("strict")
	if cfg == nil {
		t.Fatal("strict preset not found")
	}
	got := FormatPreset(cfg)
	for _, want := range []string{"# strict", "**Mode:** strict", "### no_shell_interpreters", "```cel", "- `wuauserv`"} {
		if !strings.Contains(got, want) {
			t.Errorf("preset output missing %q", want)
		}
	}
}
