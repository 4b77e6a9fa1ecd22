package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/mongocfg/cmd/mongocfg/commands"
	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/telemetry"
)

// Set with -ldflags "-X main.Version=..." at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Until settings are loaded only the global logger exists.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(telemetry.ParseLevel(os.Getenv("MONGOCFG_LOG_LEVEL")))

	// An interrupt cancels ctx; watch and remote fact collection stop on it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("mongocfg failed")
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration conflicts and 1 for everything else.
func exitCode(err error) int {
	if engine.IsConfigurationConflict(err) {
		return 2
	}
	return 1
}
