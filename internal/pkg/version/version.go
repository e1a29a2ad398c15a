package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/endorses/tlsniff/internal/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var fillOnce sync.Once

// fill takes the module version and VCS stamp from the binary's build info
// when the linker flags were not set, as with go install.
func fill() {
	fillOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && GitCommit == "unknown":
				GitCommit = s.Value
			case s.Key == "vcs.time" && BuildDate == "unknown":
				BuildDate = s.Value
			}
		}
	})
}

// GetVersion returns the version, suffixed with the short commit when known.
func GetVersion() string {
	fill()
	if len(GitCommit) > 7 && GitCommit != "unknown" {
		return Version + "-" + GitCommit[:7]
	}
	return Version
}

// GetFullVersion adds build date and toolchain.
func GetFullVersion() string {
	fill()
	return fmt.Sprintf("%s (commit: %s, built: %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
