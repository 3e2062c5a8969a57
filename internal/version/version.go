// Package version holds the build version of syftcrypt. Release builds set the
// variables with -ldflags; other builds fall back to Go build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "0.1.0-dev"

var (
	AppName   = "syftcrypt"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

func applyBuildInfo(mainVersion string, settings map[string]string) {
	if Version == devVersion || Version == "" {
		if v := mainVersion; v != "" && v != "(devel)" {
			Version = strings.TrimPrefix(v, "v")
		}
	}

	if Revision == "HEAD" || Revision == "" {
		if r := settings["vcs.revision"]; r != "" {
			if len(r) > 12 {
				r = r[:12]
			}
			if settings["vcs.modified"] == "true" {
				r += "-dirty"
			}
			Revision = r
		}
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

// Short is `0.1.0 (5e23a4)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed is `syftcrypt 0.1.0 (5e23a4; go1.23.6; linux/amd64; 2025-05-01T10:00:00Z)`.
// The build date is left out when unknown.
func Detailed() string {
	parts := []string{Revision, runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH}
	if BuildDate != "" {
		parts = append(parts, BuildDate)
	}
	return fmt.Sprintf("%s %s (%s)", AppName, Version, strings.Join(parts, "; "))
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	applyBuildInfo(info.Main.Version, settings)
}
