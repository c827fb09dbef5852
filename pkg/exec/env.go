package exec

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/alessio/shellescape"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// BuildExportScript renders one sh line exporting vars in key order. Every
// value is shell-quoted. Keys that are not valid shell identifiers are
// returned separately and left out of the script.
func BuildExportScript(vars map[string]string) (string, []string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts, rejected []string
	for _, k := range keys {
		if !envKeyPattern.MatchString(k) {
			rejected = append(rejected, k)
			continue
		}
		parts = append(parts, "export "+k+"="+shellescape.Quote(vars[k]))
	}
	return strings.Join(parts, "; "), rejected
}

// ExportEnv exports vars in a host shell through r. It does nothing unless r
// escapes a sandbox. Failures are logged and otherwise ignored.
func ExportEnv(ctx context.Context, r Runner, vars map[string]string, logger *slog.Logger) {
	if r == nil || !r.Sandboxed() || len(vars) == 0 {
		return
	}
	logger = loggerOrDefault(logger)

	script, rejected := BuildExportScript(vars)
	for _, k := range rejected {
		logger.Warn("skipping invalid environment variable name", "key", k)
	}
	if script == "" {
		return
	}

	res, _ := r.Run(ctx, []string{"sh", "-c", script}, Options{Capture: true})
	if res != nil && res.Err != nil {
		logger.Warn("export host environment failed", "status", res.Status, "code", res.Code, "err", res.Err)
		return
	}
	logger.Debug("exported host environment", "count", len(vars)-len(rejected))
}

// ExportHostEnv is ExportEnv on the Default runner.
func ExportHostEnv(ctx context.Context, vars map[string]string) {
	ExportEnv(ctx, Default(), vars, nil)
}
