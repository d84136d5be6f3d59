// Package version holds build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time, e.g.
//
//	go build -ldflags "-X github.com/knowyouranimal/kya/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Short returns only the version number.
func Short() string {
	return Version
}

// Info returns the full multi-line version report.
func Info() string {
	return fmt.Sprintf("kya %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s",
		Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
