/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build metadata.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/voxqueue/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision, set the same way as Version.
var Commit = "unknown"

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Current returns build metadata for this process.
func Current() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
	}
}

// String renders the version line printed by the CLI.
func (i Info) String() string {
	return fmt.Sprintf("voxqueue %s (%s, %s)", i.Version, i.Commit, i.GoVersion)
}
