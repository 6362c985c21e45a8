// Package buildinfo exposes the liteagent binary's version metadata.
//
// Metadata is resolved once from linker overrides and the embedded VCS
// build settings, then cached for the life of the process.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Version and Commit are overridable at link time:
//
//	-ldflags "-X .../internal/buildinfo.Version=v1.2.3"
//
// When left at their defaults, the embedded build info wins.
var (
	Version = ""
	Commit  = ""
)

// Info is the resolved build metadata.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
	Dirty     bool
}

var (
	once   sync.Once
	cached Info
)

// Current returns the binary's build metadata, resolving it on first call.
func Current() Info {
	once.Do(func() {
		cached = resolve()
	})
	return cached
}

// String renders the metadata in the CLI's one-line format.
func (i Info) String() string {
	commit := i.Commit
	if i.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("liteagent %s (commit %s, built %s)", i.Version, commit, i.BuildDate)
}

func resolve() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = strings.TrimSpace(s.Value)
				}
			case "vcs.time":
				info.BuildDate = strings.TrimSpace(s.Value)
			case "vcs.modified":
				info.Dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
			}
		}
	}

	if parsed, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = parsed.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}
