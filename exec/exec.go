package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flanksource/commons/logger"
)

// Result is the outcome of one external invocation.
type Result struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	// NotFound is set when the binary could not be located on PATH.
	NotFound bool  `json:"notFound,omitempty"`
	Err      error `json:"-"`
}

func (r Result) IsOK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Out returns stdout followed by stderr. Several print tools report their
// findings on stderr.
func (r Result) Out() string {
	return r.Stdout + r.Stderr
}

func (r Result) String() string {
	return strings.TrimSpace(r.Command + " " + strings.Join(r.Args, " "))
}

// Error describes a failed invocation, or returns nil for a successful one.
func (r Result) Error() error {
	if r.IsOK() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	if len(msg) > 400 {
		msg = msg[:400] + "..."
	}
	if r.NotFound {
		return fmt.Errorf("%s: not found", r.Command)
	}
	if msg == "" && r.Err != nil {
		msg = r.Err.Error()
	}
	return fmt.Errorf("%s exited with %d: %s", r.Command, r.ExitCode, msg)
}

// Runner executes external tools. Implementations must block until the
// process exits.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// Process is a single external command.
type Process struct {
	Cmd     string
	Args    []string
	Env     map[string]string
	Cwd     string
	Timeout time.Duration
	Log     logger.Logger
	Stderr  bytes.Buffer
	Stdout  bytes.Buffer
	Err     error
	state   *os.ProcessState
	started time.Time
	elapsed time.Duration
}

func NewProcess(cmd string, args ...string) Process {
	return Process{Cmd: cmd, Args: args}
}

func (p Process) WithEnv(env map[string]string) Process {
	p.Env = env
	return p
}

func (p Process) WithCwd(cwd string) Process {
	p.Cwd = cwd
	return p
}

func (p Process) WithLogger(log logger.Logger) Process {
	p.Log = log
	return p
}

func (p Process) WithTimeout(timeout time.Duration) Process {
	p.Timeout = timeout
	return p
}

func (p Process) Name() string {
	return p.Cmd
}

func (p Process) Out() string {
	return p.Stdout.String() + p.Stderr.String()
}

// Run executes the process with its arguments passed verbatim, never through
// a shell, so paths with spaces or quotes need no escaping.
// Cancelling ctx does not stop a started process, only Timeout does.
func (p Process) Run(ctx context.Context) Process {
	ctx = context.WithoutCancel(ctx)
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.Cmd, p.Args...)
	cmd.Dir = p.Cwd
	cmd.Stdout = &p.Stdout
	cmd.Stderr = &p.Stderr
	if len(p.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range p.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	if p.Log != nil {
		p.Log.Tracef("exec: %s %s", p.Cmd, strings.Join(p.Args, " "))
	}
	p.started = time.Now()
	p.Err = cmd.Run()
	p.elapsed = time.Since(p.started)
	p.state = cmd.ProcessState
	if ctx.Err() == context.DeadlineExceeded {
		p.Err = fmt.Errorf("%s timed out after %s: %w", p.Cmd, p.Timeout, ctx.Err())
	}
	return p
}

func (p Process) IsOK() bool {
	return p.Err == nil && p.state != nil && p.state.Success()
}

// Result converts a finished process into a Result.
func (p Process) Result() Result {
	r := Result{
		Command:  p.Cmd,
		Args:     p.Args,
		Stdout:   p.Stdout.String(),
		Stderr:   p.Stderr.String(),
		Duration: p.elapsed,
		Err:      p.Err,
	}
	switch {
	case p.state != nil:
		r.ExitCode = p.state.ExitCode()
	case p.Err != nil:
		r.ExitCode = -1
	}
	if errors.Is(p.Err, exec.ErrNotFound) {
		r.NotFound = true
	}
	var pathErr *os.PathError
	if errors.As(p.Err, &pathErr) && p.state == nil {
		r.NotFound = true
	}
	return r
}

// OSRunner runs tools as child processes of this one.
type OSRunner struct {
	// Timeout bounds every invocation, zero means no bound.
	Timeout time.Duration
	Log     logger.Logger
}

func NewOSRunner(timeout time.Duration) *OSRunner {
	return &OSRunner{Timeout: timeout, Log: logger.GetLogger("exec")}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) Result {
	p := NewProcess(name, args...).WithTimeout(r.Timeout).WithLogger(r.Log).Run(ctx)
	res := p.Result()
	if r.Log != nil && !res.IsOK() && !res.NotFound {
		r.Log.Debugf("%s failed (exit %d) in %s", res.String(), res.ExitCode, res.Duration)
	}
	return res
}
