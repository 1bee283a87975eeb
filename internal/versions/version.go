package versions

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build time via -ldflags.
var (
	// Version is the current version of the server
	Version = "dev"
	// Commit is the git commit the server was built from
	Commit = "unknown"
	// BuildDate is when the server was built
	BuildDate = "unknown"
)

// VersionInfo holds version and build information about the server
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version and build information of the
// running server
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
