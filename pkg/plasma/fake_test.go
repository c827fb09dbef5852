package plasma

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/twinverse/hostbridge/pkg/exec"
)

// fakeShell answers the three script shapes the manager emits.
type fakeShell struct {
	mu        sync.Mutex
	modes     []string
	countOut  *string
	failRead  map[int]bool
	failWrite map[int]bool
	scripts   []string
	writes    []string
}

func newFakeShell(modes ...string) *fakeShell {
	return &fakeShell{modes: modes, failRead: map[int]bool{}, failWrite: map[int]bool{}}
}

func (f *fakeShell) Name() string { return "fake" }

func (f *fakeShell) Evaluate(_ context.Context, script string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)

	if script == CountScript() {
		if f.countOut != nil {
			return *f.countOut, nil
		}
		return strconv.Itoa(len(f.modes)), nil
	}

	var i int
	if _, err := fmt.Sscanf(script, "print(panels()[%d].hiding)", &i); err == nil && strings.HasPrefix(script, "print(") {
		if f.failRead[i] {
			return "", errors.New("read failed")
		}
		return f.modes[i], nil
	}
	if _, err := fmt.Sscanf(script, "panels()[%d].hiding = ", &i); err == nil {
		if f.failWrite[i] {
			return "", errors.New("write failed")
		}
		f.writes = append(f.writes, script)
		return "", nil
	}
	return "", fmt.Errorf("unexpected script %q", script)
}

func (f *fakeShell) writesSince(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes[n:]...)
}

func (f *fakeShell) scriptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scripts)
}

// fakeRunner serves canned stdout per binary and fails everything else.
type fakeRunner struct {
	mu     sync.Mutex
	stdout map[string]string
	calls  [][]string
}

func (r *fakeRunner) Run(_ context.Context, argv []string, _ exec.Options) (*exec.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, argv)
	out, ok := r.stdout[argv[0]]
	if !ok {
		err := fmt.Errorf("run %s: executable file not found", argv[0])
		return &exec.Result{Argv: argv, Code: -1, Status: exec.StatusError, Err: err}, err
	}
	return &exec.Result{Argv: argv, Stdout: out, Status: exec.StatusCompleted}, nil
}

func (r *fakeRunner) Start(context.Context, []string, exec.Options) (*exec.Handle, error) {
	return nil, errors.New("not supported")
}

func (r *fakeRunner) Sandboxed() bool { return false }

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func kdeEnv(string) string { return "KDE" }
