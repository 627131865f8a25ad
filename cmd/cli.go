package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/habedi/tandem/config"
	"github.com/habedi/tandem/db"
	"github.com/habedi/tandem/pkg/clierr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

// Execute runs the CLI and exits with the status of the failing command's error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := createRootCmd()
	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for a command")

	err := rootCmd.ExecuteContext(ctx)
	closeDatabase()
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed.")
		rootCmd.PrintErrln("Error:", err)
		stop()
		os.Exit(clierr.ExitCode(err))
	}
}

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "tandem",
		Short:             "Session and realtime sync client for the Tandem API",
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file (TANDEM_* environment variables override it)")

	rootCmd.AddCommand(
		loginCmd(),
		registerCmd(),
		logoutCmd(),
		whoamiCmd(),
		getCmd(),
		watchCmd(),
		presenceCmd(),
		workspaceCmd(),
		versionCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	return rootCmd
}

// setup loads the configuration and opens the session database for every
// command except version.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return clierr.New(clierr.Validation, "Invalid configuration: "+err.Error(), err)
	}
	cfg = c
	if cfg.Debug && zerolog.GlobalLevel() > zerolog.DebugLevel {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cmd.Name() == "version" {
		return nil
	}
	db.Path = cfg.DBPath
	return initializeDatabase()
}

func initializeDatabase() error {
	if err := db.InitDB(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return clierr.New(clierr.Internal, "Failed to open the session database.", err)
	}
	return nil
}

func closeDatabase() {
	if err := db.CloseDB(); err != nil {
		log.Error().Err(err).Msg("Failed to close the database.")
	}
	db.Db = nil
}
