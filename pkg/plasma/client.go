package plasma

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twinverse/hostbridge/pkg/exec"
)

const (
	Service   = "org.kde.plasmashell"
	Path      = "/PlasmaShell"
	Interface = "org.kde.PlasmaShell"
	Method    = Interface + ".evaluateScript"
)

// DefaultCandidates are probed in order until one answers --version.
var DefaultCandidates = []string{"qdbus6", "qdbus"}

// ScriptClient sends one script to the Plasma shell and returns its trimmed
// output. It is the only path by which the manager talks to the shell.
type ScriptClient interface {
	Name() string
	Evaluate(ctx context.Context, script string) (string, error)
}

// Resolver finds a ScriptClient, or returns nil when none is usable.
type Resolver func(ctx context.Context) ScriptClient

// QDBusClient drives a qdbus binary through an exec.Runner, so it works the
// same inside and outside the sandbox.
type QDBusClient struct {
	Bin    string
	Runner exec.Runner
}

func (c *QDBusClient) Name() string { return c.Bin }

func (c *QDBusClient) Evaluate(ctx context.Context, script string) (string, error) {
	argv := []string{c.Bin, Service, Path, Method, script}
	res, err := c.Runner.Run(ctx, argv, exec.Options{Capture: true, Check: true})
	if err != nil {
		return "", fmt.Errorf("evaluate script via %s: %w", c.Bin, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ProbeCandidates returns a QDBusClient for the first candidate whose
// --version call succeeds.
func ProbeCandidates(ctx context.Context, runner exec.Runner, candidates []string, logger *slog.Logger) *QDBusClient {
	for _, bin := range candidates {
		res, err := runner.Run(ctx, []string{bin, "--version"}, exec.Options{Capture: true, Check: true})
		if err != nil {
			logger.Debug("script client probe failed", "client", bin, "err", err)
			continue
		}
		logger.Info("using script client", "client", bin, "version", firstLine(res.Stdout))
		return &QDBusClient{Bin: bin, Runner: runner}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
