// Package version holds build-time version information, injected via
// -ldflags at release time.
package version

var (
	// Version is the semantic version of the build (e.g. "1.4.0").
	Version = "dev"
	// Commit is the git commit SHA the binary was built from.
	Commit = "unknown"
)
