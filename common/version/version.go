// Package version carries the build stamp printed by "nunu version" and
// logged at startup. The variables are overridden at link time:
//
//	go build -ldflags "-X github.com/bdobrica/nunu/common/version.Version=v1.2.0"
package version

var (
	Version   = "v0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a one-line version string for the CLI and the startup log.
func Info() string {
	return "nunu " + Version + " (" + GitCommit + ") built at " + BuildTime
}
