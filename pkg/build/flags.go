// SPDX-License-Identifier: MIT
//
// Package build exposes metadata embedded at link time with -ldflags:
//
//	-X pdmstream/pkg/build.buildName=pdmstream
//	-X pdmstream/pkg/build.buildTime=...
//	-X pdmstream/pkg/build.buildCommit=...
//	-X pdmstream/pkg/build.buildVersion=...
//
// Development builds run with placeholder values.
package build

import (
	"errors"
	"fmt"
)

// Info is the build metadata of the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String returns a one-line summary suitable for --version output.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

const description = "PDM microphone capture with weighting filter and level metering"

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	info         = devInfo()
)

func devInfo() Info {
	return Info{
		Name:        "pdmstream",
		Description: description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize copies the ldflags values into the build info. Missing values
// keep their development placeholders and are reported in the returned
// error, so release builds can treat it as fatal and dev builds as a warning.
func Initialize() error {
	info = devInfo()
	var errs []error
	set := func(dst *string, v, flag string) {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return
		}
		*dst = v
	}
	set(&info.Name, buildName, "BuildName")
	set(&info.Time, buildTime, "BuildTime")
	set(&info.Commit, buildCommit, "BuildCommit")
	set(&info.Version, buildVersion, "BuildVersion")
	return errors.Join(errs...)
}

// Get returns the current build info.
func Get() Info {
	return info
}
