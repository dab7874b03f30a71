// Package buildinfo holds the version string baked in at build time via
// -ldflags.
package buildinfo

// version is overridden at build time: -ldflags "-X .../buildinfo.version=v1.2.3"
var version = "v0.0.0-dev"

// Version returns the engine's semver string (spec.md §6's version()).
func Version() string { return version }
