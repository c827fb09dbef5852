// Package sandbox detects whether the process runs inside a Flatpak sandbox.
package sandbox

import (
	"os"
	"sync"
)

// DefaultMarker is the file Flatpak mounts into every sandbox.
const DefaultMarker = "/.flatpak-info"

// Context reports the sandbox status of the running process.
type Context interface {
	Sandboxed() bool
}

// IsSandboxed reports whether the default marker file exists. It is not cached.
func IsSandboxed() bool {
	return markerExists(DefaultMarker)
}

// Detector checks a marker path once and remembers the answer.
type Detector struct {
	marker string
	once   sync.Once
	value  bool
}

// NewDetector returns a Detector for marker. An empty marker uses DefaultMarker.
func NewDetector(marker string) *Detector {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Detector{marker: marker}
}

func (d *Detector) Sandboxed() bool {
	d.once.Do(func() {
		d.value = markerExists(d.marker)
	})
	return d.value
}

// Marker returns the path the detector checks.
func (d *Detector) Marker() string {
	return d.marker
}

// Static is a fixed Context, mostly useful in tests.
type Static bool

func (s Static) Sandboxed() bool { return bool(s) }

var defaultDetector = NewDetector(DefaultMarker)

// Default returns the process-wide detector for DefaultMarker.
func Default() *Detector {
	return defaultDetector
}

func markerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
