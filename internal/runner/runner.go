// Package runner spawns external maintenance tools without a shell.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"time"
)

// DefaultWaitDelay bounds how long Wait blocks for output pipes after the
// process has been killed.
const DefaultWaitDelay = 2 * time.Second

// MaxCapture caps each captured stream.
const MaxCapture = 4 << 20

// Executor runs one process per call. Implementations must not invoke a shell.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Spec describes one process
type Spec struct {
	Argv          []string
	Timeout       time.Duration // zero means no limit beyond ctx
	CaptureOutput bool
	Dir           string
	Env           []string // appended to the parent environment

	// Passthrough receives output when CaptureOutput is false. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// Result of a process that was started. ExitCode is -1 when killed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// ExecExecutor runs processes through os/exec
type ExecExecutor struct {
	WaitDelay time.Duration
}

// NewExecExecutor with the default wait delay
func NewExecExecutor() *ExecExecutor {
	return &ExecExecutor{WaitDelay: DefaultWaitDelay}
}

// Run starts argv[0] with the remaining args. A non-nil error means the
// process could not be started (or the parent ctx was cancelled); a non-zero
// exit is reported through Result.
func (e *ExecExecutor) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return Result{ExitCode: -1}, fmt.Errorf("empty argv")
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdin = nil // reads from the null device
	cmd.WaitDelay = e.WaitDelay
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	hideWindow(cmd)

	var stdout, stderr limitedBuffer
	if spec.CaptureOutput {
		stdout.max, stderr.max = MaxCapture, MaxCapture
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		cmd.Stdout = spec.Stdout
		cmd.Stderr = spec.Stderr
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	if spec.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.ExitCode = -1
		res.TimedOut = true
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// exited fine but a grandchild kept the pipes open
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	return res, err
}

// IsNotFound reports a missing executable
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// IsPermission reports an access failure starting the process
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

// limitedBuffer drops writes past max but reports them as written so the
// child never sees EPIPE.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
