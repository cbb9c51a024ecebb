// Command portscout is a TCP port scanner with a REST API, scan history and
// scheduled scans.
package main

import (
	"github.com/anstrom/portscout/cmd/cli"
)

// Build information, set through -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
