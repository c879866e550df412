// deck is the Crewdeck CLI for running multiple coding agents in one terminal.
package main

import (
	"os"

	"github.com/crewdeck/crewdeck/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
