package main

import (
	"os"

	"otrkit/cmd/otrkit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
