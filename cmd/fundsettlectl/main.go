// Command fundsettlectl is the operator CLI for a running fundsettle server.
package main

import (
	"os"

	"github.com/alanyoungcy/fundsettle/cmd/fundsettlectl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
