package version

import (
	"fmt"
	"runtime"
)

// Build-time values, overridden with -ldflags.
var (
	gitVersion = "v0.0.0-master"
	gitCommit  = "unknown"
	buildDate  = "unknown"
)

// Info describes the version of the running binary.
type Info struct {
	GitVersion string
	GitCommit  string
	BuildDate  string
	GoVersion  string
	Platform   string
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s, %s)",
		i.GitVersion, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// Get returns the version information of the current build.
func Get() Info {
	return Info{
		GitVersion: gitVersion,
		GitCommit:  gitCommit,
		BuildDate:  buildDate,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
