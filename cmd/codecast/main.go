package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/codecast/internal/config"
	"github.com/rickgao/codecast/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	debug      bool
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "codecast",
		Short:         "Codecast collaboration client",
		Long:          "Codecast joins live code rooms over STOMP, tails and publishes room events, and records them to PostgreSQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			opts.logger = newLogger(opts.debug)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/codecast.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config is expanded")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newCheckConfigCmd(opts),
		newTailCmd(opts),
		newPublishCmd(opts),
		newRecordCmd(opts),
	)

	return rootCmd
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Codecast version number",
		Long:  `Print the version number of codecast`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codecast %s\n", version.String())
		},
	}
}

func newCheckConfigCmd(opts *options) *cobra.Command {
	var recorder bool

	cmd := &cobra.Command{
		Use:   "checkconfig",
		Short: "Check configuration file",
		Long:  `Load, default and validate the codecast configuration file`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(opts.configPath)
			if err != nil {
				return err
			}
			if recorder {
				if err := cfg.ValidateRecorder(); err != nil {
					return fmt.Errorf("validate recorder config: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&recorder, "recorder", false, "also check settings required by record")
	return cmd
}
