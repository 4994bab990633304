package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"syncrelay/internal/config"
	"syncrelay/internal/constants"
	"syncrelay/internal/logger"
	"syncrelay/internal/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "syncrelay-server",
		Short:         "Relay that pairs tutorial peers by session id",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	def := config.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := def
			if err := config.Load(viper.New(), configPath, cmd.Flags(), &cfg); err != nil {
				return err
			}

			log, err := logger.New(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			defer log.Close()

			srv, err := server.New(cfg, log.Logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info("starting relay",
				zap.String("addr", cfg.Addr),
				zap.Duration("session_timeout", cfg.Session.SessionTimeout),
				zap.Int("max_participants", cfg.Session.MaxParticipants))
			if err := srv.Run(ctx); err != nil {
				return err
			}
			log.Info("relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	config.AddServerFlags(cmd.Flags(), def)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", constants.AppName, constants.Version)
		},
	}
}
