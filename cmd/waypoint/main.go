package main

import (
	"os"

	"waypoint/cmd/waypoint/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
