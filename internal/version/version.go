// Package version reports build metadata set through -ldflags, falling back
// to the VCS stamp the Go toolchain embeds in the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"evalgo.org/gridstore/models"
)

// APIVersion is the path prefix version of the REST API.
const APIVersion = "v1"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info describes the running binary and the collections it serves.
type Info struct {
	Version     string   `json:"version"`
	APIVersion  string   `json:"api_version"`
	BuildTime   string   `json:"build_time"`
	GitCommit   string   `json:"git_commit"`
	GoVersion   string   `json:"go_version"`
	Platform    string   `json:"platform"`
	Collections []string `json:"collections"`
}

// Get returns the build information.
func Get() Info {
	info := Info{
		Version:    Version,
		APIVersion: APIVersion,
		BuildTime:  BuildTime,
		GitCommit:  GitCommit,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.GitCommit == "unknown" || info.BuildTime == "unknown" {
		fromBuildInfo(&info)
	}
	for _, k := range models.Kinds() {
		if k != models.KindNetwork {
			info.Collections = append(info.Collections, k.Path())
		}
	}
	return info
}

func fromBuildInfo(info *Info) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == "unknown":
			info.GitCommit = s.Value
			if len(info.GitCommit) > 12 {
				info.GitCommit = info.GitCommit[:12]
			}
		case s.Key == "vcs.time" && info.BuildTime == "unknown":
			info.BuildTime = s.Value
		}
	}
}

func (i Info) String() string {
	return fmt.Sprintf("gridstore %s (%s) built at %s on %s, api %s",
		i.Version,
		i.GitCommit,
		i.BuildTime,
		i.Platform,
		i.APIVersion,
	)
}
