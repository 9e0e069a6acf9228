// Package version contains build version information.
package version

import "fmt"

// Build metadata, set at build time via
// -ldflags "-X github.com/bissquit/gocd-slack-relay/internal/version.Version=...".
var (
	Version   = "0.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String returns a one-line description of the running build.
func String() string {
	return fmt.Sprintf("gocd-slack-relay %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
