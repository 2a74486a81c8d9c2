// Package version holds the build version, overridden at link time with
// -ldflags "-X github.com/born-ml/mriscan/internal/version.Version=...".
package version

var Version string = "v0.1.0-dev"
