package main

import (
	"depsync/internal/cli"
	_ "depsync/internal/patterns/matchers"
)

// Populated via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetBuildInfo(version, commit, date)
	cli.Execute()
}
