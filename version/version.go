// Package version holds the build version stored alongside DAG runs and
// reported by the API. It's set at link time:
//
//	go build -ldflags "-X github.com/meltinfra/bootstrap/version.Version=v0.3.1"
package version

var Version = "dev"
