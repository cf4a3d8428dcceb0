// Package version carries build identity stamped in via -ldflags.
package version

var (
	// Version is the release tag, or a dev placeholder for local builds.
	Version = "v0.1.0"
	// Commit is the short git hash of the build.
	Commit = "unknown"
	// BuiltAt is the build timestamp in RFC 3339.
	BuiltAt = "unknown"
)

// Info returns the bare version string for API responses.
func Info() string {
	return Version
}

// FullInfo returns the version with commit and build time for startup logs.
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}
