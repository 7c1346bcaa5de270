// Package runnertest provides a scripted Executor for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/winguard/winguard/internal/runner"
)

// Response is what the fake returns for a matching call
type Response struct {
	Result runner.Result
	Err    error
}

// Executor records every Spec and answers from a script keyed by the
// space-joined argv prefix. Unscripted calls succeed with exit code 0.
type Executor struct {
	mu      sync.Mutex
	calls   []runner.Spec
	script  []scripted
	OnCall  func(spec runner.Spec) // optional side effect, e.g. writing an export file
	Default Response
}

type scripted struct {
	prefix string
	resp   Response
}

// New spy executor
func New() *Executor {
	return &Executor{}
}

// On registers a response for calls whose argv starts with prefix
// (case-insensitive). Later registrations win.
func (e *Executor) On(prefix string, resp Response) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = append(e.script, scripted{prefix: strings.ToLower(prefix), resp: resp})
	return e
}

// Run implements runner.Executor
func (e *Executor) Run(ctx context.Context, spec runner.Spec) (runner.Result, error) {
	e.mu.Lock()
	cp := spec
	cp.Argv = append([]string(nil), spec.Argv...)
	e.calls = append(e.calls, cp)
	line := strings.ToLower(strings.Join(spec.Argv, " "))
	resp := e.Default
	for i := len(e.script) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, e.script[i].prefix) {
			resp = e.script[i].resp
			break
		}
	}
	hook := e.OnCall
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1}, err
	}
	if hook != nil {
		hook(cp)
	}
	return resp.Result, resp.Err
}

// Calls returns a copy of recorded specs
func (e *Executor) Calls() []runner.Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]runner.Spec(nil), e.calls...)
}

// CallCount is the number of processes "spawned"
func (e *Executor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Argvs returns each recorded argv joined by spaces
func (e *Executor) Argvs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = strings.Join(c.Argv, " ")
	}
	return out
}

// Exit builds a Response for a finished process
func Exit(code int, stdout, stderr string) Response {
	return Response{Result: runner.Result{ExitCode: code, Stdout: stdout, Stderr: stderr}}
}

// TimedOut builds a Response for a killed process
func TimedOut() Response {
	return Response{Result: runner.Result{ExitCode: -1, TimedOut: true}}
}

// SpawnError builds a Response for a process that never started
func SpawnError(err error) Response {
	return Response{Result: runner.Result{ExitCode: -1}, Err: err}
}
