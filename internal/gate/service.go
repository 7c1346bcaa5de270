package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/runner"
)

// sc.exe / Win32 error codes the gate interprets
const (
	scAccessDenied      = 5
	scServiceNotRunning = 1062
	scAlreadyRunning    = 1056
	scServiceNotExist   = 1060
)

const scTimeout = 30 * time.Second

// ErrServiceNotFound is returned by Status for unknown services
var ErrServiceNotFound = errors.New("service not found")

// ServiceState as reported by sc query
type ServiceState string

const (
	StateRunning      ServiceState = "running"
	StateStopped      ServiceState = "stopped"
	StateStartPending ServiceState = "start_pending"
	StateStopPending  ServiceState = "stop_pending"
	StatePaused       ServiceState = "paused"
	StateUnknown      ServiceState = "unknown"
)

// ServiceGate drives sc.exe
type ServiceGate struct {
	policy Decider
	exec   runner.Executor
	clock  clock
}

// NewServiceGate builds a gate
func NewServiceGate(p Decider, exec runner.Executor) *ServiceGate {
	return &ServiceGate{policy: p, exec: exec}
}

// Execute checks policy, confirms the service exists, then stops, starts or
// disables it.
func (g *ServiceGate) Execute(ctx context.Context, req models.ServiceRequest) models.MutationOutcome {
	b := begin(g.clock, req)

	id := strings.TrimSpace(req.ServiceID)
	if id == "" {
		return b.failed(ctx, models.ErrKindValidation, "service id is empty")
	}
	if strings.ContainsAny(id, `\/`) {
		return b.failed(ctx, models.ErrKindValidation, fmt.Sprintf("invalid service id %q", req.ServiceID))
	}
	var argv []string
	switch req.Action {
	case models.ServiceStop:
		argv = []string{"sc", "stop", id}
	case models.ServiceStart:
		argv = []string{"sc", "start", id}
	case models.ServiceDisable:
		argv = []string{"sc", "config", id, "start=", "disabled"}
	default:
		return b.failed(ctx, models.ErrKindValidation, fmt.Sprintf("unknown service action %q", req.Action))
	}

	if d := g.policy.Decide(ctx, req); !d.Allowed {
		return b.blocked(ctx, d)
	}

	// existence check first so a missing service is not_found rather than a
	// generic sc failure
	q, err := g.exec.Run(ctx, runner.Spec{Argv: []string{"sc", "query", id}, Timeout: scTimeout, CaptureOutput: true})
	if err != nil {
		return b.spawnFailure(ctx, "sc", err)
	}
	if q.TimedOut {
		return b.timedOut(ctx, scTimeout)
	}
	if scCode(q) == scServiceNotExist {
		b.out.ExitCode = models.IntPtr(q.ExitCode)
		return b.failed(ctx, models.ErrKindNotFound, fmt.Sprintf("service %s does not exist", id))
	}

	res, err := g.exec.Run(ctx, runner.Spec{Argv: argv, Timeout: scTimeout, CaptureOutput: true})
	if err != nil {
		return b.spawnFailure(ctx, "sc", err)
	}
	if res.TimedOut {
		return b.timedOut(ctx, scTimeout)
	}
	b.out.ExitCode = models.IntPtr(res.ExitCode)
	if res.ExitCode == 0 {
		return b.succeeded("")
	}

	switch code := scCode(res); {
	case code == scServiceNotRunning && req.Action == models.ServiceStop:
		return b.succeeded("service was not running")
	case code == scAlreadyRunning && req.Action == models.ServiceStart:
		return b.succeeded("service was already running")
	case code == scServiceNotExist:
		return b.failed(ctx, models.ErrKindNotFound, fmt.Sprintf("service %s does not exist", id))
	case code == scAccessDenied || isAccessDenied(res):
		b.out.Stderr = models.StringPtr(res.Stderr)
		return b.failed(ctx, models.ErrKindPermissionDenied, exitReason(res))
	default:
		b.out.Stderr = models.StringPtr(res.Stderr)
		return b.failed(ctx, models.ErrKindExec, exitReason(res))
	}
}

// Status queries a service without changing it
func (g *ServiceGate) Status(ctx context.Context, id string) (ServiceState, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return StateUnknown, fmt.Errorf("service id is empty")
	}
	res, err := g.exec.Run(ctx, runner.Spec{Argv: []string{"sc", "query", id}, Timeout: scTimeout, CaptureOutput: true})
	if err != nil {
		return StateUnknown, fmt.Errorf("sc query %s: %w", id, err)
	}
	if res.TimedOut {
		return StateUnknown, fmt.Errorf("sc query %s timed out", id)
	}
	if scCode(res) == scServiceNotExist {
		return StateUnknown, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	if res.ExitCode != 0 {
		return StateUnknown, fmt.Errorf("sc query %s: %s", id, exitReason(res))
	}
	return ParseServiceState(res.Stdout), nil
}

// ParseServiceState reads the STATE line of `sc query`, e.g.
// "STATE              : 4  RUNNING".
func ParseServiceState(out string) ServiceState {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(strings.ToUpper(line), "STATE") {
			continue
		}
		fields := strings.Fields(line)
		for _, f := range fields {
			switch strings.ToUpper(f) {
			case "RUNNING":
				return StateRunning
			case "STOPPED":
				return StateStopped
			case "START_PENDING":
				return StateStartPending
			case "STOP_PENDING":
				return StateStopPending
			case "PAUSED":
				return StatePaused
			}
		}
	}
	return StateUnknown
}

// scCode extracts the Win32 error code sc.exe reports. sc exits with the
// code itself and also prints "FAILED <code>".
func scCode(res runner.Result) int {
	if res.ExitCode == 0 {
		return 0
	}
	text := res.Stdout + " " + res.Stderr
	if i := strings.Index(text, "FAILED "); i >= 0 {
		var code int
		if _, err := fmt.Sscanf(text[i+len("FAILED "):], "%d", &code); err == nil {
			return code
		}
	}
	return res.ExitCode
}
