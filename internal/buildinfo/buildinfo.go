// Package buildinfo holds version metadata stamped at link time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set with -ldflags "-X github.com/nugget/vercade/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime is the time since the process started, truncated to seconds.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// Info returns build and runtime details for the version endpoint and
// the version subcommand.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return "vercade/" + Version
}

// String returns a one-line summary for startup logs.
func String() string {
	return fmt.Sprintf("vercade %s (%s) built %s", Version, GitCommit, BuildTime)
}
