package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go-relay/internal/auth"
	"go-relay/internal/config"
	"go-relay/internal/logging"
	"go-relay/internal/server"
	"go-relay/internal/storage"

	"github.com/spf13/cobra"
)

var version = "0.1.0" // set at build time with -ldflags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Private message relay",
		Long: `relay stores two-party messages and pushes them to the receiver's
open sockets.

Available commands:
  serve     Run the HTTP API and socket endpoint (default)
  migrate   Create or update the database schema
  token     Mint an access token for a user id

Configuration is read from RELAY_* environment variables and an optional .env file.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and socket endpoint",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE:  runMigrate,
		},
		newTokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "relay v%s\n", version)
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return err
	}
	defer app.Close()

	return app.Run(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogFormat, cfg.LogLevel)

	// Connect migrates before returning.
	db, err := storage.Connect(cfg.DBPath, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	log.Info("schema up to date", "db_path", cfg.DBPath)
	return nil
}

func newTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user id",
		Long: `token prints a signed access token for --user. The token is accepted
on the socket endpoint as ?token= and on the API as a Bearer token.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			token, err := auth.NewTokenIssuer(cfg.AppSecret, ttl).Generate(userID, username)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token")
	cmd.Flags().StringVar(&username, "name", "", "username to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to RELAY_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
