package gate

import (
	"context"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
	"github.com/winguard/winguard/internal/policy"
	"github.com/winguard/winguard/internal/runner"
)

// CommandGate runs one external program after a policy check
type CommandGate struct {
	policy Decider
	exec   runner.Executor
	clock  clock
}

// NewCommandGate builds a gate over a policy and executor
func NewCommandGate(p Decider, exec runner.Executor) *CommandGate {
	return &CommandGate{policy: p, exec: exec}
}

// Execute checks, spawns and waits. Nothing is spawned for a blocked request.
func (g *CommandGate) Execute(ctx context.Context, req models.CommandRequest) models.MutationOutcome {
	b := begin(g.clock, req)
	log := logging.From(ctx)

	if len(req.Argv) == 0 || req.Argv[0] == "" {
		return b.failed(ctx, models.ErrKindValidation, "empty command")
	}
	if d := g.policy.Decide(ctx, req); !d.Allowed {
		return b.blocked(ctx, d)
	}
	if !policy.IsKnownExecutable(req.Argv[0]) {
		log.Warn("command", "executable is not a known maintenance tool", "exe", req.Argv[0])
	}

	timeout := req.EffectiveTimeout()
	res, err := g.exec.Run(ctx, runner.Spec{
		Argv:          req.Argv,
		Timeout:       timeout,
		CaptureOutput: req.CaptureOutput,
	})
	if err != nil {
		return b.spawnFailure(ctx, req.Argv[0], err)
	}
	if req.CaptureOutput {
		b.out.Stdout = models.StringPtr(res.Stdout)
		b.out.Stderr = models.StringPtr(res.Stderr)
	}
	if res.TimedOut {
		return b.timedOut(ctx, timeout)
	}

	b.out.ExitCode = models.IntPtr(res.ExitCode)
	if res.ExitCode != 0 {
		kind := models.ErrKindExec
		if isAccessDenied(res) {
			kind = models.ErrKindPermissionDenied
		}
		return b.failed(ctx, kind, exitReason(res))
	}

	log.Debug("command", "command finished", "action", b.out.Action, "duration", res.Duration.String())
	return b.succeeded("")
}
