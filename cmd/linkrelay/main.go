package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linkrelay/internal/app"
	"linkrelay/internal/config"
)

type rootFlags struct {
	config string
	env    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "linkrelay",
		Short:         "Telegram bot that turns short-video links into media",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnv(f.env)
		},
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "path to config file (.json or .yaml); empty uses the environment only")
	root.PersistentFlags().StringVar(&f.env, "env", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot until SIGINT/SIGTERM",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), f.config)
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Load and validate the config, then print a summary without secrets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.NewManager(f.config).Load()
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), cfg)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), versionLine())
			},
		},
	)
	return root
}

func serve(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("fatal start: %w", err)
	}

	reason := stopReasonFor(ctx, sigs, a.Done())
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// stopReasonFor blocks until a signal arrives, ctx ends or the app dies on its own.
func stopReasonFor(ctx context.Context, sigs <-chan os.Signal, done <-chan struct{}) app.StopReason {
	select {
	case s := <-sigs:
		if s == os.Interrupt {
			return app.StopSIGINT
		}
		return app.StopSIGTERM
	case <-ctx.Done():
		return app.StopAppStop
	case <-done:
		return app.StopFatalError
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	cats := make([]string, 0, len(cfg.Resolver.Patterns))
	for _, p := range cfg.Resolver.Patterns {
		cats = append(cats, p.Category)
	}
	fmt.Fprintln(w, "config ok")
	fmt.Fprintf(w, "  admins:      %d\n", len(cfg.Telegram.AdminIDs))
	fmt.Fprintf(w, "  categories:  %s\n", strings.Join(cats, ", "))
	fmt.Fprintf(w, "  storage:     %s\n", cfg.Storage.Driver)
	fmt.Fprintf(w, "  workers:     %d\n", cfg.Relay.Workers)
	fmt.Fprintf(w, "  batch size:  %d\n", cfg.Relay.BatchSize)
	if cfg.Scheduler.Enabled && cfg.Scheduler.StatsDigest != "" {
		fmt.Fprintf(w, "  digest:      %s\n", cfg.Scheduler.StatsDigest)
	}
}

func versionLine() string {
	mod := "linkrelay (devel)"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		mod = bi.Main.Path + " " + bi.Main.Version
	}
	return fmt.Sprintf("%s %s %s/%s", mod, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
