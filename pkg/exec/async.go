package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-cmd/cmd"
)

var ErrStopped = errors.New("command stopped before completion")

// Handle is a command started without waiting. Output is only kept when the
// command was started with Options.Capture; otherwise it is discarded.
type Handle struct {
	argv      []string
	sandboxed bool
	check     bool
	timeout   time.Duration
	timedOut  atomic.Bool
	c         *cmd.Cmd
}

func start(ctx context.Context, argv, env []string, opts Options, sandboxed bool) *Handle {
	c := cmd.NewCmdOptions(cmd.Options{Buffered: opts.Capture}, argv[0], argv[1:]...)
	c.Dir = opts.Dir
	if len(env) > 0 {
		c.Env = append(os.Environ(), env...)
	}
	c.Start()

	h := &Handle{argv: argv, sandboxed: sandboxed, check: opts.Check, c: c}
	var timer *time.Timer
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		h.timeout = opts.Timeout
		timer = time.NewTimer(opts.Timeout)
		deadline = timer.C
	}
	if ctx.Done() != nil || timer != nil {
		go func() {
			if timer != nil {
				defer timer.Stop()
			}
			select {
			case <-ctx.Done():
				_ = c.Stop()
			case <-deadline:
				h.timedOut.Store(true)
				_ = c.Stop()
			case <-c.Done():
			}
		}()
	}
	return h
}

// Argv returns the vector that was spawned, including any escape prefix.
func (h *Handle) Argv() []string {
	return h.argv
}

// PID is zero until the process has actually started.
func (h *Handle) PID() int {
	return h.c.Status().PID
}

// Done is closed once the process has exited or failed to start.
func (h *Handle) Done() <-chan struct{} {
	return h.c.Done()
}

// Poll returns the current state without blocking. The Result carries
// StatusRunning while the process is alive.
func (h *Handle) Poll() *Result {
	select {
	case <-h.c.Done():
		return h.result(h.c.Status(), true)
	default:
		return h.result(h.c.Status(), false)
	}
}

// Wait blocks until the process exits or ctx ends. In Check mode a
// non-completed Result is also returned as an error.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.c.Done():
	case <-ctx.Done():
		return h.Poll(), ctx.Err()
	}
	res := h.result(h.c.Status(), true)
	if h.check && res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// Stop terminates the process group.
func (h *Handle) Stop() error {
	if err := h.c.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", h.argv[0], err)
	}
	return nil
}

func (h *Handle) result(st cmd.Status, finished bool) *Result {
	res := &Result{
		Argv:      h.argv,
		Sandboxed: h.sandboxed,
		Code:      st.Exit,
		Stdout:    joinLines(st.Stdout),
		Stderr:    joinLines(st.Stderr),
	}
	if st.StartTs > 0 {
		end := st.StopTs
		if end == 0 {
			end = time.Now().UnixNano()
		}
		res.Duration = time.Duration(end - st.StartTs)
	}

	switch {
	case !finished:
		res.Status = StatusRunning
	case h.timedOut.Load():
		res.Status = StatusTimeout
		res.Code = -1
		res.Err = fmt.Errorf("%s timed out after %s", h.argv[0], h.timeout)
	case st.Error != nil:
		res.Status = StatusError
		res.Code = -1
		res.Err = fmt.Errorf("run %s: %w", h.argv[0], st.Error)
	case !st.Complete:
		res.Status = StatusError
		res.Err = fmt.Errorf("%s: %w", h.argv[0], ErrStopped)
	case st.Exit != 0:
		res.Status = StatusFailed
		res.Err = &ExitError{Argv: h.argv, Code: st.Exit, Stderr: res.Stderr}
	default:
		res.Status = StatusCompleted
	}
	return res
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
