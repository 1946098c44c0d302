package build

import "runtime/debug"

// Commit is the commit hash this binary was built from, injected at link
// time via -ldflags.
var Commit string

// version is the semantic version of the release.
const version = "0.2.0"

// Version returns the version string for the running binary.
func Version() string {
	return version
}

// CommitHash returns the injected commit, falling back to the VCS revision
// recorded in the build info.
func CommitHash() string {
	if Commit != "" {
		return Commit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}

	return ""
}
