// SPDX-License-Identifier: MIT
//
// Package build carries the version metadata of the cardio binary. Release
// builds inject it with linker flags:
//
//	go build -ldflags "-X cardio/pkg/build.buildName=cardio -X cardio/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds fall back to the VCS stamp of the Go toolchain.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
	ID          string // Unique per build, or per process for development builds.
}

// String formats the flags for --version output.
func (f ldFlags) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, id %s)", f.Version, f.Commit, f.Time, f.ID)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation. Default values of "unknown" are used during development.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildID      string
	buildFlags   = defaultFlags()

	readBuildInfo = debug.ReadBuildInfo
)

func defaultFlags() *ldFlags {
	return &ldFlags{
		Name:        "cardio",
		Description: "Acoustic heartbeat monitor",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "unknown",
	}
}

// Initialize copies the linker flags into the build information. Missing
// flags are filled from the VCS stamp where possible and reported together
// in the returned error; the build information is usable either way.
func Initialize() error {
	var errs []error
	set := func(dst *string, val, name string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return
		}
		*dst = val
	}
	set(&buildFlags.Name, buildName, "BuildName")
	set(&buildFlags.Time, buildTime, "BuildTime")
	set(&buildFlags.Commit, buildCommit, "BuildCommit")
	set(&buildFlags.Version, buildVersion, "BuildVersion")

	buildFlags.ID = buildID
	if buildFlags.ID == "" {
		buildFlags.ID = uuid.NewString()
	}

	if len(errs) > 0 {
		fillFromBuildInfo(buildFlags)
	}
	return errors.Join(errs...)
}

// fillFromBuildInfo replaces unknown fields with the toolchain's VCS stamp.
func fillFromBuildInfo(f *ldFlags) {
	info, ok := readBuildInfo()
	if !ok {
		return
	}
	if f.Version == "unknown" && info.Main.Version != "" {
		f.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && f.Commit == "unknown":
			f.Commit = s.Value
		case s.Key == "vcs.time" && f.Time == "unknown":
			f.Time = s.Value
		}
	}
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
