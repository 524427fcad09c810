// Package version carries build identification stamped in via ldflags:
//
//	go build -ldflags "\
//	  -X github.com/depthlab/bookfeed/internal/version.Version=$(git describe --tags) \
//	  -X github.com/depthlab/bookfeed/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/depthlab/bookfeed/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "fmt"

var (
	// Version is the release tag, "dev" for unstamped builds.
	Version = "dev"

	// Commit is the short git hash.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String renders the full build identification for startup logs.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}
