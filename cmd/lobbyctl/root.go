package main

import (
	"database/sql"
	"errors"
	"fmt"

	lobby "github.com/putto11262002/lobby/app"
	"github.com/spf13/cobra"
)

// options are the flags shared by every command.
type options struct {
	configFile string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "lobbyctl",
		Short: "Administrative tasks for the lobby relay",
		Long: `lobbyctl manages the lobby relay outside the server process.
It reads the same config.yaml, .env and LOBBY_* environment variables as the server.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (default is ./config.yaml)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default is .env)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newUserCmd(opts),
		newTokenCmd(opts),
		newFlushCmd(opts),
	)
	return cmd
}

// loadConfig loads and validates the configuration. Commands that sign tokens need a
// configured secret, so a random one is never generated here.
func (o *options) loadConfig() (*lobby.Config, error) {
	config, err := (&lobby.ViperConfigLoader{ConfigFile: o.configFile, EnvFiles: o.envFiles, RequireSecret: true}).Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.New(lobby.FormatValidationErrors(err))
	}
	return config, nil
}

func (o *options) openDB() (*lobby.Config, *sql.DB, error) {
	config, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := lobby.OpenDB(config)
	if err != nil {
		return nil, nil, err
	}
	return config, db, nil
}
