// Package version carries build metadata injected with -ldflags, falling
// back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags "-X shelf/pkg/version.Version=v1.2.3 -X shelf/pkg/version.GitCommit=$(git rev-parse HEAD)"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ComponentName identifies the binary in logs, health and metrics.
const ComponentName = "shelf"

// Info is the JSON shape served by /status.
type Info struct {
	Component string `json:"component"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func GetInfo() Info {
	commit, date := GitCommit, BuildDate
	if commit == "unknown" || date == "unknown" {
		vcsCommit, vcsDate := readVCS()
		if commit == "unknown" && vcsCommit != "" {
			commit = vcsCommit
		}
		if date == "unknown" && vcsDate != "" {
			date = vcsDate
		}
	}
	return Info{
		Component: ComponentName,
		Version:   Version,
		GitCommit: commit,
		BuildDate: date,
	}
}

// GetShortCommit returns the first 7 characters of the commit hash.
func GetShortCommit() string {
	commit := GetInfo().GitCommit
	if len(commit) >= 7 {
		return commit[:7]
	}
	return commit
}

// String renders "shelf v1.2.3 (abcdef1)".
func String() string {
	return fmt.Sprintf("%s %s (%s)", ComponentName, Version, GetShortCommit())
}

func readVCS() (commit, date string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.time":
			date = s.Value
		}
	}
	return commit, date
}
