// Package procrunner spawns child processes with capped stdout/stderr
// capture and a hard wall-clock timeout, the shared primitive used by both
// the Installer and Sandbox Executor external-contract implementations.
package procrunner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaxCaptureBytes bounds how much of stdout/stderr is retained per stream.
// Bytes beyond the cap are counted only to set the truncation flag.
const MaxCaptureBytes = 1 << 20 // 1 MiB

const truncationNotice = "\n[output truncated]\n"

// Result is the outcome of running one child process.
type Result struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	TimedOut   bool
}

// Runner spawns child processes with explicit argv and environment.
type Runner struct{}

// New returns a ready-to-use Runner.
func New() *Runner { return &Runner{} }

// Run spawns command with env (nil means "inherit nothing" — callers build a
// minimal environment explicitly; see MinimalEnv), capturing stdout/stderr
// concurrently, each capped at MaxCaptureBytes. On timeout expiry the
// process is killed and reaped; ReturnCode is 124 in that case, otherwise
// the process's real exit code (0 substituted when none is reported).
func (r *Runner) Run(ctx context.Context, command []string, timeout time.Duration, env []string) Result {
	logArgv := command
	if len(logArgv) > 8 {
		logArgv = logArgv[:8]
	}
	slog.Info("process start", "timeout", timeout, "argv", logArgv)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Env = env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ReturnCode: 1, Stderr: err.Error()}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{ReturnCode: 1, Stderr: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return Result{ReturnCode: 1, Stderr: err.Error()}
	}

	var stdoutBuf, stderrBuf capBuffer
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return stdoutBuf.drain(stdoutPipe) })
	g.Go(func() error { return stderrBuf.drain(stderrPipe) })
	_ = g.Wait()

	waitErr := cmd.Wait()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	returnCode := 0
	if timedOut {
		returnCode = 124
	} else if exitErr, ok := waitErr.(*exec.ExitError); ok {
		returnCode = exitErr.ExitCode()
	} else if waitErr != nil {
		returnCode = 1
	}

	result := Result{
		ReturnCode: returnCode,
		Stdout:     stdoutBuf.string(),
		Stderr:     stderrBuf.string(),
		TimedOut:   timedOut,
	}
	slog.Info("process complete",
		"timed_out", result.TimedOut,
		"returncode", result.ReturnCode,
		"stdout_bytes", len(result.Stdout),
		"stderr_bytes", len(result.Stderr),
	)
	return result
}

// capBuffer accumulates up to MaxCaptureBytes of a stream, tracking whether
// more was discarded.
type capBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *capBuffer) drain(r io.Reader) error {
	chunk := make([]byte, 65536)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			remaining := MaxCaptureBytes - c.buf.Len()
			if remaining > 0 {
				keep := n
				if keep > remaining {
					keep = remaining
				}
				c.buf.Write(chunk[:keep])
				if keep < n {
					c.truncated = true
				}
			} else {
				c.truncated = true
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (c *capBuffer) string() string {
	if c.truncated {
		return c.buf.String() + truncationNotice
	}
	return c.buf.String()
}

// MinimalEnv builds a minimal PATH/HOME/TMPDIR-only environment for a
// sandboxed child, plus any caller-supplied extra vars, so the child never
// inherits the parent's full environment (and any secrets in it). Grounded
// on the original Python predecessor's minimal_process_env.
func MinimalEnv(path string, extra map[string]string) []string {
	if path == "" {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	env := []string{
		"PATH=" + path,
		"HOME=/tmp",
		"TMPDIR=/tmp",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
