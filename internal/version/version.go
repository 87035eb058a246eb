// SPDX-License-Identifier: MIT

// Package version carries build identity, populated via ldflags.
package version

var (
	// Version is the application version, overridden by the build system.
	Version = "v1.2.0"

	// Commit is the git short hash of the build.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// UserAgent identifies ytmpd on outbound HTTP requests.
func UserAgent() string {
	return "ytmpd/" + Version
}
