package meta

import (
	"fmt"
	"runtime"
)

// Info describes how a taskq binary was built. The linker fills in the
// package variables below with -X.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
}

var (
	// Version as an arbitrary string
	Version = "dev"

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		Platform:  platform,
	}
}

// String renders the info on one line, as printed by `taskq version`.
func (i Info) String() string {
	s := fmt.Sprintf("taskq %s", i.Version)

	if i.Build != "" {
		s += fmt.Sprintf(" (%s", i.Build)
		if i.Branch != "" {
			s += "@" + i.Branch
		}
		s += ")"
	}

	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}

	return fmt.Sprintf("%s %s %s", s, i.GoVersion, i.Platform)
}
