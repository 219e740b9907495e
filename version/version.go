// Package version carries build information injected at link time:
//
//	go build -ldflags "-X github.com/jackzampolin/sieve/version.GitRelease=v0.1.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag.
	GitRelease = "dev"
	// GitCommit is the commit hash.
	GitCommit = "unknown"
	// GitCommitDate is the commit date.
	GitCommitDate = "unknown"
	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
