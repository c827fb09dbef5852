package system

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hbexec "github.com/twinverse/hostbridge/pkg/exec"
	"github.com/twinverse/hostbridge/pkg/sandbox"
)

func TestParseOSRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	content := "NAME=\"Fedora Linux\"\nID=fedora\nVERSION_ID=\"40\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	distro, version := parseOSRelease(path)
	assert.Equal(t, "fedora", distro)
	assert.Equal(t, "40", version)
}

func TestParseOSReleaseMissing(t *testing.T) {
	distro, version := parseOSRelease(filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, distro)
	assert.Empty(t, version)
}

func TestDetectLocal(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("uname probe is linux specific")
	}
	t.Setenv("XDG_CURRENT_DESKTOP", "KDE")
	p := Detect(context.Background(), &hbexec.LocalRunner{}, sandbox.Static(false))
	assert.Equal(t, "linux", p.OS)
	assert.Equal(t, "KDE", p.Desktop)
	assert.False(t, p.Sandboxed)
	assert.Empty(t, p.Broker)
	assert.NotEmpty(t, p.Kernel)
}

func TestDetectWithoutRunner(t *testing.T) {
	p := Detect(context.Background(), nil, nil)
	assert.Equal(t, runtime.GOARCH, p.Arch)
	assert.Empty(t, p.Kernel)
}

func TestMissingBins(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test uses sh")
	}
	missing := MissingBins(context.Background(), &hbexec.LocalRunner{}, []string{"sh", "hostbridge-no-such-bin"})
	assert.Equal(t, []string{"hostbridge-no-such-bin"}, missing)
}
