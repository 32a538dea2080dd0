// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "dev"

	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"

	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// UserAgent returns the agent identifier sent with API requests,
// e.g. "cloudprof-go/1.2.0 go1.25.1".
func UserAgent() string {
	return fmt.Sprintf("cloudprof-go/%s %s", Version, GoVersion)
}
