// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package versions exposes build-time version information.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Version information set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = unknownStr
	BuildDate = unknownStr
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version details for the running binary.
// Development builds without a release version get a synthetic
// "build-<commit>" version string.
func GetVersionInfo() VersionInfo {
	version := Version
	if version == "dev" {
		version = "build-" + shortCommit(Commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    Commit,
		BuildDate: formatBuildDate(BuildDate),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func shortCommit(commit string) string {
	if commit == unknownStr || commit == "" {
		return unknownStr
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// formatBuildDate reformats an RFC 3339 build timestamp for display.
// Unparseable values pass through unchanged.
func formatBuildDate(date string) string {
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return date
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
