// Package version provides build information for the npcforge binary.
//
// The variables are set at link time:
//
//	go build -ldflags "-X github.com/npcforge/npcforge/pkg/version.Version=v1.0.0 \
//	  -X github.com/npcforge/npcforge/pkg/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set during build time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

func init() {
	if GitCommit != "unknown" {
		return
	}
	// Fall back to the VCS stamp when built without ldflags.
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if len(s.Value) > 12 {
					GitCommit = s.Value[:12]
				} else if s.Value != "" {
					GitCommit = s.Value
				}
			case "vcs.time":
				if BuildTime == "unknown" && s.Value != "" {
					BuildTime = s.Value
				}
			}
		}
	}
}

// Info returns a map with all version information.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}

// String renders the one-line form printed by `npcforge -version`.
func String() string {
	return fmt.Sprintf("npcforge %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
