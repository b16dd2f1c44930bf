// Package version exposes the Drover build version.
package version

import "fmt"

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("drover %s", Version)
}
