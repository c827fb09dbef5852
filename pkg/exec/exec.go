// Package exec runs commands either directly or, from inside a Flatpak
// sandbox, on the real host through flatpak-spawn.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/twinverse/hostbridge/pkg/sandbox"
)

// DefaultTimeout bounds a synchronous invocation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// DefaultEscapePrefix is prepended to every argv by HostRunner.
var DefaultEscapePrefix = []string{"flatpak-spawn", "--host"}

var ErrEmptyCommand = errors.New("command is required")

// Status classifies how an invocation ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
	StatusRunning   Status = "running"
)

// Options controls a single invocation.
type Options struct {
	// Capture collects stdout and stderr into the Result. Without it the
	// child writes to the parent's streams.
	Capture bool
	// Check turns any status other than StatusCompleted into a returned error.
	Check bool
	// Timeout overrides the runner default for Run. Negative disables the
	// bound. Start applies only a positive Timeout: background commands are
	// not bounded by the runner default.
	Timeout time.Duration
	Env     map[string]string
	Dir     string
}

// Result is the outcome of one invocation.
type Result struct {
	Argv      []string
	Stdout    string
	Stderr    string
	Code      int
	Duration  time.Duration
	Sandboxed bool
	// Truncated is set when captured output hit the runner's MaxOutput;
	// Dropped counts the discarded bytes across stdout and stderr.
	Truncated bool
	Dropped   int64
	Status    Status
	Err       error
}

func (r *Result) Success() bool {
	return r != nil && r.Status == StatusCompleted
}

// ExitError is returned in Check mode when the command exits non-zero.
type ExitError struct {
	Argv   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Argv[0], e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Runner executes argv vectors. Implementations decide where the process runs.
type Runner interface {
	Run(ctx context.Context, argv []string, opts Options) (*Result, error)
	Start(ctx context.Context, argv []string, opts Options) (*Handle, error)
	Sandboxed() bool
}

// Config tunes the runners built by NewRunner.
type Config struct {
	Timeout      time.Duration
	MaxOutput    int
	EscapePrefix []string
}

// NewRunner picks the HostRunner when sb reports a sandbox, LocalRunner otherwise.
func NewRunner(sb sandbox.Context, cfg Config) Runner {
	if sb != nil && sb.Sandboxed() {
		r := NewHostRunner(cfg.EscapePrefix...)
		r.Timeout = cfg.Timeout
		r.MaxOutput = cfg.MaxOutput
		return r
	}
	return &LocalRunner{Timeout: cfg.Timeout, MaxOutput: cfg.MaxOutput}
}

// LocalRunner runs commands directly on the machine the process sees.
type LocalRunner struct {
	Timeout   time.Duration
	MaxOutput int
}

func (r *LocalRunner) Sandboxed() bool { return false }

// Command returns the argv that would be spawned.
func (r *LocalRunner) Command(argv []string) []string {
	return append([]string(nil), argv...)
}

func (r *LocalRunner) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return run(ctx, r.Command(argv), envList(opts.Env), opts, r.Timeout, r.MaxOutput, false)
}

func (r *LocalRunner) Start(ctx context.Context, argv []string, opts Options) (*Handle, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return start(ctx, r.Command(argv), envList(opts.Env), opts, false), nil
}

// HostRunner escapes the sandbox by prefixing every argv with the broker
// command. Env and Dir are forwarded as broker flags, since the local
// process environment does not reach the host.
type HostRunner struct {
	Prefix    []string
	EnvFlag   string
	DirFlag   string
	Timeout   time.Duration
	MaxOutput int
}

// NewHostRunner returns a HostRunner for prefix, or DefaultEscapePrefix when empty.
func NewHostRunner(prefix ...string) *HostRunner {
	r := &HostRunner{Prefix: append([]string(nil), prefix...)}
	if len(r.Prefix) == 0 {
		r.Prefix = append([]string(nil), DefaultEscapePrefix...)
	}
	if r.Prefix[0] == DefaultEscapePrefix[0] {
		r.EnvFlag = "--env="
		r.DirFlag = "--directory="
	}
	return r
}

func (r *HostRunner) Sandboxed() bool { return true }

// Command returns the argv that would be spawned for argv with opts.
func (r *HostRunner) Command(argv []string, opts Options) []string {
	out := make([]string, 0, len(r.Prefix)+len(opts.Env)+len(argv)+1)
	out = append(out, r.Prefix...)
	if r.EnvFlag != "" {
		for _, kv := range envList(opts.Env) {
			out = append(out, r.EnvFlag+kv)
		}
	}
	if r.DirFlag != "" && opts.Dir != "" {
		out = append(out, r.DirFlag+opts.Dir)
	}
	return append(out, argv...)
}

func (r *HostRunner) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	dispatched, local := r.prepare(argv, opts)
	return run(ctx, dispatched, local.env, local.opts, r.Timeout, r.MaxOutput, true)
}

func (r *HostRunner) Start(ctx context.Context, argv []string, opts Options) (*Handle, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	dispatched, local := r.prepare(argv, opts)
	return start(ctx, dispatched, local.env, local.opts, true), nil
}

type localSpawn struct {
	env  []string
	opts Options
}

// prepare moves Env and Dir into broker flags when the broker supports them.
func (r *HostRunner) prepare(argv []string, opts Options) ([]string, localSpawn) {
	local := localSpawn{opts: opts}
	if r.EnvFlag == "" {
		local.env = envList(opts.Env)
	}
	if r.DirFlag != "" {
		local.opts.Dir = ""
	}
	return r.Command(argv, opts), local
}

var defaultRunner = sync.OnceValue(func() Runner {
	return NewRunner(sandbox.Default(), Config{Timeout: DefaultTimeout})
})

// Default returns the runner chosen from the process-wide sandbox detector.
func Default() Runner {
	return defaultRunner()
}

// RunHostCommand runs argv through Default.
func RunHostCommand(ctx context.Context, argv []string, opts Options) (*Result, error) {
	return Default().Run(ctx, argv, opts)
}

// StartHostCommand starts argv through Default without waiting for it.
func StartHostCommand(ctx context.Context, argv []string, opts Options) (*Handle, error) {
	return Default().Start(ctx, argv, opts)
}

func run(ctx context.Context, argv, env []string, opts Options, timeout time.Duration, maxOutput int, sandboxed bool) (*Result, error) {
	timeout = effectiveTimeout(opts.Timeout, timeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Dir = opts.Dir
	if len(env) > 0 {
		command.Env = append(os.Environ(), env...)
	}
	command.WaitDelay = time.Second

	var stdoutBuf, stderrBuf *capturedOutput
	if opts.Capture {
		stdoutBuf = newCapturedOutput(maxOutput)
		stderrBuf = newCapturedOutput(maxOutput)
		command.Stdout = stdoutBuf
		command.Stderr = stderrBuf
	} else {
		command.Stdout = os.Stdout
		command.Stderr = os.Stderr
	}

	res := &Result{Argv: argv, Sandboxed: sandboxed}
	started := time.Now()
	err := command.Run()
	res.Duration = time.Since(started)
	if opts.Capture {
		res.Stdout = stdoutBuf.String()
		res.Stderr = stderrBuf.String()
		res.Dropped = stdoutBuf.Dropped() + stderrBuf.Dropped()
		res.Truncated = res.Dropped > 0
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Status = StatusCompleted
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimeout
		res.Code = -1
		res.Err = fmt.Errorf("%s timed out after %s", argv[0], timeout)
	case ctx.Err() != nil:
		res.Status = StatusError
		res.Code = -1
		res.Err = fmt.Errorf("%s: %w", argv[0], ctx.Err())
	case errors.As(err, &exitErr):
		res.Status = StatusFailed
		res.Code = exitErr.ExitCode()
		res.Err = &ExitError{Argv: argv, Code: res.Code, Stderr: res.Stderr}
	default:
		res.Status = StatusError
		res.Code = -1
		res.Err = fmt.Errorf("run %s: %w", argv[0], err)
	}

	if opts.Check && res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func effectiveTimeout(override, fallback time.Duration) time.Duration {
	switch {
	case override < 0:
		return 0
	case override > 0:
		return override
	case fallback < 0:
		return 0
	case fallback == 0:
		return DefaultTimeout
	default:
		return fallback
	}
}

func envList(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
