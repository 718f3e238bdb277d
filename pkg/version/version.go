// Package version reports the build identity of the narrator binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is stamped at build time via -ldflags "-X"; "dev" for local builds.
var Version = "dev"

// Commit reads the VCS revision recorded in the binary's build info,
// shortened to 12 characters. Builds without VCS metadata report "unknown".
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}

// String renders the line printed by the version subcommand.
func String() string {
	return fmt.Sprintf("narrator %s (commit %s, %s)", Version, Commit(), runtime.Version())
}
