// Package gate validates and performs guarded mutations. Every call returns
// exactly one MutationOutcome; denials and OS faults are outcomes, not Go
// errors.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
	"github.com/winguard/winguard/internal/runner"
)

// Decider is the read-only policy view a gate needs. *policy.Store satisfies
// it.
type Decider interface {
	Decide(ctx context.Context, req models.MutationRequest) models.PolicyDecision
}

// clock is overridable in tests
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// outcomeBuilder accumulates one outcome. finish stamps the duration.
type outcomeBuilder struct {
	out   models.MutationOutcome
	start time.Time
	clock clock
}

func begin(c clock, req models.MutationRequest) *outcomeBuilder {
	start := c.now()
	return &outcomeBuilder{
		out: models.MutationOutcome{
			RequestKind: req.Kind(),
			Action:      req.Describe(),
			StartedAt:   start,
		},
		start: start,
		clock: c,
	}
}

func (b *outcomeBuilder) finish() models.MutationOutcome {
	b.out.Duration = b.clock.now().Sub(b.start)
	return b.out
}

func (b *outcomeBuilder) succeeded(reason string) models.MutationOutcome {
	b.out.Status = models.StatusSucceeded
	b.out.Reason = reason
	return b.finish()
}

func (b *outcomeBuilder) blocked(ctx context.Context, d models.PolicyDecision) models.MutationOutcome {
	b.out.Status = models.StatusBlocked
	b.out.Kind = models.ErrKindPolicyBlocked
	b.out.Reason = d.Reason
	b.out.Rule = d.Rule
	logging.From(ctx).Warn(string(b.out.RequestKind), "blocked by policy", "action", b.out.Action, "rule", d.Rule, "reason", d.Reason)
	return b.finish()
}

func (b *outcomeBuilder) failed(ctx context.Context, kind models.ErrorKind, reason string) models.MutationOutcome {
	b.out.Status = models.StatusFailed
	b.out.Kind = kind
	b.out.Reason = reason
	logging.From(ctx).Error(string(b.out.RequestKind), "mutation failed", "action", b.out.Action, "error_kind", string(kind), "reason", reason)
	return b.finish()
}

func (b *outcomeBuilder) timedOut(ctx context.Context, after time.Duration) models.MutationOutcome {
	b.out.Status = models.StatusTimedOut
	b.out.Kind = models.ErrKindTimeout
	b.out.Reason = fmt.Sprintf("timed out after %s", after)
	b.out.ExitCode = models.IntPtr(-1)
	logging.From(ctx).Error(string(b.out.RequestKind), "mutation timed out", "action", b.out.Action, "timeout", after.String())
	return b.finish()
}

// spawnFailure maps an executor error onto the taxonomy
func (b *outcomeBuilder) spawnFailure(ctx context.Context, argv0 string, err error) models.MutationOutcome {
	switch {
	case runner.IsNotFound(err):
		return b.failed(ctx, models.ErrKindNotFound, fmt.Sprintf("executable %q not found: %v", argv0, err))
	case runner.IsPermission(err):
		return b.failed(ctx, models.ErrKindPermissionDenied, fmt.Sprintf("permission denied starting %q: %v", argv0, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return b.failed(ctx, models.ErrKindExec, "cancelled: "+err.Error())
	default:
		return b.failed(ctx, models.ErrKindExec, fmt.Sprintf("failed to start %q: %v", argv0, err))
	}
}

// firstLine of tool output, for reasons
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// exitReason summarises a non-zero exit
func exitReason(res runner.Result) string {
	msg := firstLine(res.Stderr)
	if msg == "" {
		msg = firstLine(res.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("exit status %d", res.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", res.ExitCode, msg)
}

// isAccessDenied recognises the Windows access-denied message
func isAccessDenied(res runner.Result) bool {
	return containsFold(res.Stderr+" "+res.Stdout, "access is denied")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
