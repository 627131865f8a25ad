package main

import (
	"os"
	"strings"

	"github.com/habedi/tandem/cmd"
	"github.com/rs/zerolog"
)

// main sets up logging from DEBUG_TANDEM and runs the CLI.
func main() {
	configureLogLevelFromEnv()
	cmd.Execute()
}

// configureLogLevelFromEnv enables debug logging when DEBUG_TANDEM is set to
// anything but "", "0" or "false"; logging is disabled otherwise.
func configureLogLevelFromEnv() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG_TANDEM"))) {
	case "", "0", "false":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
