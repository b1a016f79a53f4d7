// Package version holds the build fingerprint of the blockvm command.
package version

import (
	"strings"

	"github.com/fatih/color"
)

// These variables can be overridden at build time via -ldflags.
var (
	// Major, Minor and Patch make up the semantic version.
	Major = "0"
	Minor = "1"
	Patch = "0"

	// Suffix marks pre-release builds.
	Suffix = "-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)
)

// Version returns the plain version string, e.g. "0.1.0-dev".
func Version() string {
	return Major + "." + Minor + "." + Patch + Suffix
}

// Colored returns the version with each component highlighted. fatih/color
// drops the escapes when output is not a terminal or NO_COLOR is set.
func Colored() string {
	return versionMajorColor.Sprint(Major) + "." +
		versionMinorColor.Sprint(Minor) + "." +
		versionPatchColor.Sprint(Patch) + Suffix
}

// Commit returns the short form of GitCommit, or "unknown".
func Commit() string {
	c := strings.TrimSpace(GitCommit)
	switch {
	case c == "":
		return "unknown"
	case len(c) > 12:
		return c[:12]
	default:
		return c
	}
}
