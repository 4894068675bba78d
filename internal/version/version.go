// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Set via ldflags at release build time.
var (
	Version = ""
	Commit  = ""

	once sync.Once
)

func ensureInitialized() {
	once.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if Version == "" {
			Version = "dev"
			if ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
				Version = strings.TrimPrefix(info.Main.Version, "v")
			}
		}
		if Commit == "" {
			Commit = "unknown"
			if ok {
				for _, s := range info.Settings {
					if s.Key == "vcs.revision" && len(s.Value) >= 7 {
						Commit = s.Value[:7]
						break
					}
				}
			}
		}
	})
}

// Short returns just the version string.
func Short() string {
	ensureInitialized()
	return Version
}

// Info returns the full one-line build description.
func Info() string {
	ensureInitialized()
	return fmt.Sprintf("cmpanel %s (commit: %s, %s/%s)",
		Version, Commit, runtime.GOOS, runtime.GOARCH)
}
