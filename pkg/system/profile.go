package system

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	hbexec "github.com/twinverse/hostbridge/pkg/exec"
	"github.com/twinverse/hostbridge/pkg/sandbox"
)

// Inside a Flatpak the host's os-release is exposed here instead of /etc.
const hostOSRelease = "/run/host/os-release"

type Profile struct {
	OS          string
	Arch        string
	Distro      string
	Version     string
	Kernel      string
	Desktop     string
	SessionType string
	Sandboxed   bool
	// Broker is the resolved path of the escape binary, empty when missing.
	Broker string
}

// Detect describes the host that commands dispatched through runner reach.
func Detect(ctx context.Context, runner hbexec.Runner, sb sandbox.Context) *Profile {
	profile := &Profile{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		Desktop:     os.Getenv("XDG_CURRENT_DESKTOP"),
		SessionType: os.Getenv("XDG_SESSION_TYPE"),
		Sandboxed:   sb != nil && sb.Sandboxed(),
	}

	release := "/etc/os-release"
	if profile.Sandboxed {
		release = hostOSRelease
		if path, err := exec.LookPath(hbexec.DefaultEscapePrefix[0]); err == nil {
			profile.Broker = path
		}
	}
	profile.Distro, profile.Version = parseOSRelease(release)

	if out, ok := hostOutput(ctx, runner, "uname", "-r"); ok {
		profile.Kernel = out
	}
	if out, ok := hostOutput(ctx, runner, "uname", "-m"); ok {
		profile.Arch = out
	}
	return profile
}

// MissingBins returns the bins that cannot be run on the host. Each bin is
// checked with "command -v" through runner.
func MissingBins(ctx context.Context, runner hbexec.Runner, bins []string) []string {
	missing := []string{}
	for _, bin := range bins {
		if _, ok := hostOutput(ctx, runner, "sh", "-c", `command -v "$0"`, bin); !ok {
			missing = append(missing, bin)
		}
	}
	return missing
}

func hostOutput(ctx context.Context, runner hbexec.Runner, argv ...string) (string, bool) {
	if runner == nil {
		return "", false
	}
	res, err := runner.Run(ctx, argv, hbexec.Options{Capture: true, Check: true})
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(res.Stdout), true
}

func parseOSRelease(path string) (string, string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	var distro, version string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "ID=") {
			distro = trimValue(strings.TrimPrefix(line, "ID="))
		}
		if strings.HasPrefix(line, "VERSION_ID=") {
			version = trimValue(strings.TrimPrefix(line, "VERSION_ID="))
		}
	}
	return distro, version
}

func trimValue(val string) string {
	return strings.Trim(val, "\"'")
}
