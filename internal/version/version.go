// Package version tracks build metadata for the application.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Info describes build metadata for the application.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

var (
	info      = withDefaults(Info{})
	infoMutex sync.RWMutex
)

// Set updates the version metadata exposed by the application. Fields left
// empty are filled from the embedded module build info where available.
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()
	info = withDefaults(v)
}

// Current returns the currently configured build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

// String renders the metadata as a single line, e.g. "v1.2.0 (abc1234, go1.25.1)".
func (i Info) String() string {
	parts := make([]string, 0, 3)
	if i.Commit != "" {
		commit := i.Commit
		if len(commit) > 7 {
			commit = commit[:7]
		}
		parts = append(parts, commit)
	}
	if i.BuildTime != "" {
		parts = append(parts, i.BuildTime)
	}
	if i.GoVersion != "" {
		parts = append(parts, i.GoVersion)
	}
	if len(parts) == 0 {
		return i.Version
	}
	return i.Version + " (" + strings.Join(parts, ", ") + ")"
}

func withDefaults(v Info) Info {
	if v.GoVersion == "" {
		v.GoVersion = runtime.Version()
	}
	bi, ok := debug.ReadBuildInfo()
	if v.Version == "" {
		v.Version = "dev"
		if ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v.Version = bi.Main.Version
		}
	}
	if !ok {
		return v
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if v.Commit == "" {
				v.Commit = setting.Value
			}
		case "vcs.time":
			if v.BuildTime == "" {
				v.BuildTime = setting.Value
			}
		}
	}
	return v
}
