package main

import "github.com/joescharf/cloudvoice/cmd"

// Overridden at release time through -ldflags -X.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.Execute(version, commit, date)
}
