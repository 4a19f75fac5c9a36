package main

import (
	"fmt"
	"os"

	"github.com/adamavenir/ledgerchat/internal/command"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	command.Version = Version
	if err := command.Execute(); err != nil {
		if !command.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
