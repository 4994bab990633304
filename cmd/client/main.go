package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"syncrelay/internal/client"
	"syncrelay/internal/config"
	"syncrelay/internal/constants"
	"syncrelay/internal/logger"
	"syncrelay/internal/protocol"
	"syncrelay/internal/syncclient"
	"syncrelay/internal/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "syncrelay-client",
		Short:         "Interactive tutorial sync peer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(connectCmd(), createCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, path string, def config.ClientConfig) (config.ClientConfig, error) {
	cfg := def
	err := config.Load(viper.New(), path, cmd.Flags(), &cfg)
	return cfg, err
}

func connectCmd() *cobra.Command {
	var (
		configPath string
		create     bool
		ttl        time.Duration
	)
	def := config.DefaultClientConfig()

	cmd := &cobra.Command{
		Use:   "connect [session]",
		Short: "Join a session and open the peer shell",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath, def)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.SessionID = args[0]
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if cfg.SessionID == "" {
				if !create {
					return fmt.Errorf("a session id is required, pass one or use --create")
				}
				resp, err := client.CreateSession(ctx, cfg.URL, protocol.CreateSessionRequest{TTL: ttlString(ttl)}, cfg.SkipTLSVerify)
				if err != nil {
					return err
				}
				cfg.SessionID = resp.SessionID
			}
			return runShell(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.Flags().BoolVar(&create, "create", false, "create a new session when none is given")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime of a session made with --create (relay default when 0)")
	config.AddClientFlags(cmd.Flags(), def)
	return cmd
}

func createCmd() *cobra.Command {
	var (
		configPath string
		ttl        time.Duration
	)
	def := config.DefaultClientConfig()

	cmd := &cobra.Command{
		Use:   "create [session]",
		Short: "Create a session on the relay and print its join URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath, def)
			if err != nil {
				return err
			}
			req := protocol.CreateSessionRequest{TTL: ttlString(ttl)}
			if len(args) == 1 {
				req.SessionID = args[0]
			}
			resp, err := client.CreateSession(cmd.Context(), cfg.URL, req, cfg.SkipTLSVerify)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			joinURL, err := transport.BuildURL(cfg.URL, resp.SessionID)
			if err != nil {
				return err
			}
			client.PrintField(out, "session", resp.SessionID, color.New(color.FgCyan))
			client.PrintField(out, "join", joinURL, color.New(color.FgYellow))
			client.PrintField(out, "expires", time.UnixMilli(resp.ExpiresAt).Format(time.RFC3339), color.New(color.Reset))
			if cfg.QR {
				return client.PrintQR(out, joinURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "session lifetime (relay default when 0)")
	config.AddClientFlags(cmd.Flags(), def)
	return cmd
}

func ttlString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

func runShell(ctx context.Context, cfg config.ClientConfig) error {
	if cfg.Log.File == "" {
		cfg.Log.File = cfg.SessionID
	}
	log, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer log.Close()

	rlCfg := &readline.Config{
		Prompt:          color.GreenString("%s> ", constants.AppName),
		AutoComplete:    client.Completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	}
	if dir, err := logger.LogDir(); err == nil {
		rlCfg.HistoryFile = filepath.Join(dir, "history")
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	shell := client.NewShell(out, log.Logger)
	c := syncclient.New(cfg.Config, shell, syncclient.WithLogger(log.Logger))
	defer c.Close()
	shell.Attach(c)

	joinURL, err := transport.BuildURL(cfg.URL, cfg.SessionID)
	if err != nil {
		return err
	}
	client.PrintBanner(out)
	client.PrintField(out, "session", cfg.SessionID, color.New(color.FgCyan))
	client.PrintField(out, "relay", joinURL, color.New(color.FgYellow))
	if p := log.Path(); p != "" {
		client.PrintField(out, "logs", p, color.New(color.Faint))
	}
	if cfg.QR {
		if err := client.PrintQR(out, joinURL); err != nil {
			return err
		}
	}
	client.PrintSep(out)

	go func() {
		<-ctx.Done()
		rl.Close()
	}()
	return shell.Run(ctx, rl)
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
