package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinverse/hostbridge/pkg/logging"
)

type recordingRunner struct {
	sandboxed bool
	calls     [][]string
	result    *Result
}

func (r *recordingRunner) Run(_ context.Context, argv []string, _ Options) (*Result, error) {
	r.calls = append(r.calls, argv)
	if r.result != nil {
		return r.result, nil
	}
	return &Result{Argv: argv, Status: StatusCompleted}, nil
}

func (r *recordingRunner) Start(context.Context, []string, Options) (*Handle, error) {
	return nil, nil
}

func (r *recordingRunner) Sandboxed() bool { return r.sandboxed }

func TestBuildExportScriptQuotesValues(t *testing.T) {
	script, rejected := BuildExportScript(map[string]string{
		"SDL_VIDEODRIVER": "x11",
		"EVIL":            "; rm -rf /",
		"QUOTE":           "it's",
		"EMPTY":           "",
	})
	assert.Empty(t, rejected)
	assert.Equal(t,
		`export EMPTY=''; export EVIL='; rm -rf /'; export QUOTE='it'"'"'s'; export SDL_VIDEODRIVER=x11`,
		script)
}

func TestBuildExportScriptRejectsBadKeys(t *testing.T) {
	script, rejected := BuildExportScript(map[string]string{
		"OK":       "1",
		"BAD;KEY":  "2",
		"1LEADING": "3",
	})
	assert.Equal(t, "export OK=1", script)
	assert.ElementsMatch(t, []string{"BAD;KEY", "1LEADING"}, rejected)
}

func TestExportScriptIsInertInShell(t *testing.T) {
	skipOnWindows(t)
	value := `; rm -rf / $(echo nope) "x" 'y'`
	script, _ := BuildExportScript(map[string]string{"EVIL": value})

	res, err := (&LocalRunner{}).Run(context.Background(),
		[]string{"sh", "-c", script + `; printf '%s' "$EVIL"`},
		Options{Capture: true, Check: true})
	require.NoError(t, err)
	assert.Equal(t, value, res.Stdout)
}

func TestExportEnvNoopWhenNotSandboxed(t *testing.T) {
	r := &recordingRunner{}
	ExportEnv(context.Background(), r, map[string]string{"A": "1"}, logging.Discard())
	assert.Empty(t, r.calls)
}

func TestExportEnvRunsShellOnHost(t *testing.T) {
	r := &recordingRunner{sandboxed: true}
	ExportEnv(context.Background(), r, map[string]string{"B": "x y", "A": "1"}, logging.Discard())
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"sh", "-c", "export A=1; export B='x y'"}, r.calls[0])
}

func TestExportEnvSwallowsFailures(t *testing.T) {
	r := &recordingRunner{sandboxed: true, result: &Result{Status: StatusFailed, Code: 1, Err: &ExitError{Argv: []string{"sh"}, Code: 1}}}
	assert.NotPanics(t, func() {
		ExportEnv(context.Background(), r, map[string]string{"A": "1"}, logging.Discard())
	})
	assert.Len(t, r.calls, 1)
}

func TestExportEnvSkipsWhenOnlyBadKeys(t *testing.T) {
	r := &recordingRunner{sandboxed: true}
	ExportEnv(context.Background(), r, map[string]string{"no good": "1"}, logging.Discard())
	assert.Empty(t, r.calls)
}
