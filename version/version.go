// Package version holds build information stamped in at link time:
//
//	go build -ldflags "-X github.com/teranos/docpipe/version.Version=1.4.0 \
//	    -X github.com/teranos/docpipe/version.CommitHash=$(git rev-parse HEAD)"
//
// Version doubles as the host version extensions are gated against, so
// release builds should stamp a semver.
package version

import (
	"fmt"
	"runtime"
)

const unset = "dev"

var (
	Version    = unset
	CommitHash = unset
	BuildTime  = "unknown"
)

// Info is the build of the running binary
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// IsRelease reports whether a version was stamped at build time
func (i Info) IsRelease() bool {
	return i.Version != unset
}

func (i Info) String() string {
	return fmt.Sprintf("docpipe %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short is the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// UserAgent identifies docpipe on outbound HTTP requests (Tika servers)
func UserAgent() string {
	return "docpipe/" + Version
}
