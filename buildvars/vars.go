// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars contains variables injected at build time.
package buildvars

// Version is set at link time via `-ldflags -X github.com/toeirei/stevedore/buildvars.Version=...`.
// It will be empty for local or development builds.
var Version string

// Commit is set at link time with the short commit SHA.
var Commit string

// Date is set at link time with the build date (RFC3339).
var Date string

// VersionOrDefault returns `Version` if set, otherwise returns the provided default.
func VersionOrDefault(def string) string {
	if len(Version) > 0 {
		return Version
	}
	return def
}
