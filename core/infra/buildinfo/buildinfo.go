package buildinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/cordum/flowline/core/infra/logging"
)

// Set at link time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// GoVersion reports the toolchain the binary was built with.
func GoVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi.GoVersion
	}
	return "unknown"
}

// Log writes the build summary under the service's component name.
func Log(service string) {
	logging.Info(service, "build info", "version", Version, "commit", Commit, "date", Date, "go", GoVersion())
}
