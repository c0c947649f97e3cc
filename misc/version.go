// Package misc keeps build time information.
package misc

import (
	"runtime/debug"
	"strings"
)

const appName = "lectern"

// Set by linker (-X) when building release binaries.
var (
	version = "dev"
	gitHash = ""
)

// GetAppName returns the program name used for logs, reports and temporary files.
func GetAppName() string {
	return appName
}

// GetVersion returns program version.
func GetVersion() string {
	return version
}

// GetGitHash returns hash of the commit program was built from, falls back to
// VCS information embedded by the go tool.
func GetGitHash() string {
	if len(gitHash) > 0 {
		return gitHash
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return "unknown"
}

// UserAgent is sent with every outgoing HTTP request.
func UserAgent() string {
	return appName + "/" + strings.TrimPrefix(version, "v")
}
