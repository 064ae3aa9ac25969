package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	lobby "github.com/putto11262002/lobby/app"
	"github.com/putto11262002/lobby/core"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", config.SQLite.File)
			return nil
		},
	}
}

func newUserCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var user core.User
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Long: `Create a user that can sign in and chat.
The id defaults to a random uuid. Ids are what rooms and tokens refer to,
so pass the id the user has in the rest of the platform when there is one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if user.DisplayName == "" {
				user.DisplayName = user.Username
			}
			id, err := core.NewSQLiteUserStore(db).CreateUser(cmd.Context(), user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	create.Flags().StringVar(&user.ID, "id", "", "user id")
	create.Flags().StringVar(&user.Username, "username", "", "unique username (required)")
	create.Flags().StringVar(&user.DisplayName, "display-name", "", "display name (defaults to the username)")
	create.Flags().StringVar(&user.Password, "password", "", "password (required)")
	create.MarkFlagRequired("username")
	create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCmd(opts *options) *cobra.Command {
	var username string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := core.NewSQLiteUserStore(db).GetUserByUsername(cmd.Context(), username)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %q: %w", username, core.ErrInvalidUser)
			}
			if ttl == 0 {
				ttl = config.Auth.TokenTTL
			}
			token, _, err := core.NewToken(*user, ttl, []byte(config.Auth.Secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	cmd.MarkFlagRequired("username")
	return cmd
}

func newFlushCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Move every buffered message to the database",
		Long: `Flush every room buffer into the database, the same sweep the server runs on flush.cron.
It is safe to run next to live servers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			rdb, err := lobby.OpenRedis(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer rdb.Close()

			logger := lobby.NewLogger(cmd.ErrOrStderr(), config.LogLevel)
			flusher := core.NewFlusher(core.NewRedisRoomBuffer(rdb), core.NewSQLiteChatStore(db), core.NewRoomLocks(), logger)
			n, err := flusher.FlushAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "flushed %d messages\n", n)
			if err != nil {
				logger.Error("flush", slog.String("error", err.Error()))
				return errors.New("some rooms failed to flush, their messages stay buffered")
			}
			return nil
		},
	}
}
