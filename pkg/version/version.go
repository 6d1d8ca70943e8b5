// Package version carries build metadata injected via -ldflags.
package version

// Set at build time with:
//
//	-ldflags "-X .../pkg/version.Version=v1.2.3 -X .../pkg/version.Commit=abc -X .../pkg/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
