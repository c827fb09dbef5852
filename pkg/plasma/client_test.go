package plasma

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinverse/hostbridge/pkg/logging"
)

func TestProbeCandidatesPicksFirstWorking(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{"qdbus": "qdbus 5.15.2\nextra\n"}}
	c := ProbeCandidates(context.Background(), runner, DefaultCandidates, logging.Discard())
	require.NotNil(t, c)
	assert.Equal(t, "qdbus", c.Name())
	assert.Equal(t, [][]string{{"qdbus6", "--version"}, {"qdbus", "--version"}}, runner.calls)
}

func TestProbeCandidatesPrefersEarlierCandidate(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{"qdbus6": "6.7", "qdbus": "5"}}
	c := ProbeCandidates(context.Background(), runner, DefaultCandidates, logging.Discard())
	require.NotNil(t, c)
	assert.Equal(t, "qdbus6", c.Bin)
	assert.Len(t, runner.calls, 1)
}

func TestProbeCandidatesNoneWork(t *testing.T) {
	runner := &fakeRunner{}
	assert.Nil(t, ProbeCandidates(context.Background(), runner, DefaultCandidates, logging.Discard()))
}

func TestQDBusClientEvaluate(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{"qdbus6": "  3\n"}}
	c := &QDBusClient{Bin: "qdbus6", Runner: runner}

	out, err := c.Evaluate(context.Background(), CountScript())
	require.NoError(t, err)
	assert.Equal(t, "3", out)
	assert.Equal(t, []string{
		"qdbus6", "org.kde.plasmashell", "/PlasmaShell",
		"org.kde.PlasmaShell.evaluateScript", "print(panels().length)",
	}, runner.calls[0])
}

func TestQDBusClientEvaluateError(t *testing.T) {
	c := &QDBusClient{Bin: "qdbus6", Runner: &fakeRunner{}}
	_, err := c.Evaluate(context.Background(), CountScript())
	assert.ErrorContains(t, err, "qdbus6")
}

func TestManagerDrivesProbedClient(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{"qdbus6": "2"}}
	m := New(context.Background(),
		WithLogger(logging.Discard()),
		WithLookupEnv(kdeEnv),
		WithRunner(runner),
	)
	require.True(t, m.Available())
	assert.Equal(t, "qdbus6", m.ClientName())
	assert.Equal(t, 2, m.PanelCount(context.Background()))
}

func TestNativeFallbackWithUnreachableBus(t *testing.T) {
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path="+filepath.Join(t.TempDir(), "no-bus"))
	runner := &fakeRunner{}
	m := New(context.Background(),
		WithLogger(logging.Discard()),
		WithLookupEnv(kdeEnv),
		WithRunner(runner),
		WithNative(true),
	)
	assert.False(t, m.Available())
	assert.Empty(t, m.ClientName())
	assert.Equal(t, OutcomeUnavailable, m.Save(context.Background()))
	assert.Len(t, runner.calls, len(DefaultCandidates), "only the probes ran")
}

func TestNativeFallbackOnlyWhenEnabled(t *testing.T) {
	dials := 0
	orig := dialNative
	dialNative = func(context.Context) (*NativeClient, error) {
		dials++
		return nil, errors.New("no bus")
	}
	t.Cleanup(func() { dialNative = orig })

	m := New(context.Background(), WithLogger(logging.Discard()), WithLookupEnv(kdeEnv), WithRunner(&fakeRunner{}))
	assert.False(t, m.Available())
	assert.Zero(t, dials)

	m = New(context.Background(), WithLogger(logging.Discard()), WithLookupEnv(kdeEnv), WithRunner(&fakeRunner{}), WithNative(true))
	assert.False(t, m.Available())
	assert.Equal(t, 1, dials)
}

func TestNativeFallbackSkippedWhenCandidateAnswers(t *testing.T) {
	dials := 0
	orig := dialNative
	dialNative = func(context.Context) (*NativeClient, error) {
		dials++
		return nil, errors.New("no bus")
	}
	t.Cleanup(func() { dialNative = orig })

	runner := &fakeRunner{stdout: map[string]string{"qdbus6": "6.7"}}
	m := New(context.Background(), WithLogger(logging.Discard()), WithLookupEnv(kdeEnv), WithRunner(runner), WithNative(true))
	assert.Equal(t, "qdbus6", m.ClientName())
	assert.Zero(t, dials)
}

type closingShell struct {
	*fakeShell
	closed int
}

func (c *closingShell) Close() error {
	c.closed++
	return nil
}

func TestManagerCloseReleasesClient(t *testing.T) {
	shell := &closingShell{fakeShell: newFakeShell("none")}
	m := New(context.Background(), WithLogger(logging.Discard()), WithLookupEnv(kdeEnv), WithClient(shell))
	require.True(t, m.Available())

	require.NoError(t, m.Close())
	assert.Equal(t, 1, shell.closed)
	assert.False(t, m.Available())
	assert.Equal(t, OutcomeUnavailable, m.Dodge(context.Background()))

	require.NoError(t, m.Close(), "second close is a no-op")
	assert.Equal(t, 1, shell.closed)
}

func TestManagerCloseWithoutCloser(t *testing.T) {
	m := New(context.Background(), WithLogger(logging.Discard()), WithLookupEnv(kdeEnv), WithClient(newFakeShell()))
	assert.NoError(t, m.Close())
}
