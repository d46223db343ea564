// Package version holds build metadata stamped in via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/tutorkit/primer/version.GitRelease=v0.3.0 \
//	  -X github.com/tutorkit/primer/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/tutorkit/primer/version.GitCommitDate=$(git log -1 --format=%cs)"
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo reports the toolchain and platform the binary was built with.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
