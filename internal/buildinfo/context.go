// Package buildinfo holds build-time metadata injected through ldflags.
package buildinfo

import "runtime"

// Set with -ldflags "-X github.com/tphakala/hotword-go/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the metadata of the running binary.
func Current() *Context {
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion returns the build version, "unknown" for development builds.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date, "unknown" when not set.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// Release is the release identifier reported to error telemetry.
func (c *Context) Release() string {
	return "hotword-go@" + c.GetVersion()
}
