package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tokbot/internal/app"
	"tokbot/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "tokbot",
		Short:         "Telegram bot that relays TikTok videos and broadcasts admin messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (.yaml, .yml or .json)")
	root.AddCommand(checkConfigCmd(&cfgPath))
	return root
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = a.Stop(sctx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-parent.Done():
		reason = app.StopAppStop
	case <-a.Done():
		reason = app.StopFatalError
	}
	cancel()

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	_ = a.Stop(sctx, reason)

	// A fatal supervisor error after startup is reported, not turned into an exit failure.
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "stopped after error:", err)
	}
	return nil
}

func checkConfigCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the config file, then exit",
		Long: `Loads the config file the same way the bot does (file, .env, TOKBOT_*
environment overrides, defaults) and validates it. Exits non-zero on error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %s\n", *cfgPath)
			fmt.Fprintf(out, "  admins:    %d\n", len(cfg.Telegram.AdminIDs))
			fmt.Fprintf(out, "  workers:   %d\n", cfg.Router.Workers)
			fmt.Fprintf(out, "  directory: %s %s\n", cfg.Directory.Driver, cfg.Directory.Path)
			fmt.Fprintf(out, "  session:   %s\n", cfg.Session.Driver)
			if cfg.Report.Schedule != "" {
				fmt.Fprintf(out, "  report:    %s\n", cfg.Report.Schedule)
			}
			return nil
		},
	}
}
