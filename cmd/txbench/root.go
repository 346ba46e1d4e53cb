package txbench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	envPrefix    = "TXBENCH"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Flags, TXBENCH_* environment variables and the
// optional config file all resolve through v.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "txbench",
		Short: "Collect transaction hashes from a block explorer and replay them as load",
		Long: `txbench has two commands:

  collect  walks a block explorer's API block by block and saves the hashes of
           non-coinbase transactions to a JSON file.
  load     reads that file and runs simulated users that request random
           transactions from the API under test.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			return setupLogger(cmd.ErrOrStderr(), v.GetString(flagLogLevel))
		},
	}

	rootCmd.PersistentFlags().StringP(flagConfig, "c", "", "Path to a config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String(flagLogLevel, "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newCollectCmd(v),
		newLoadCmd(v),
	)

	return rootCmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if cfgFile := v.GetString(flagConfig); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		slog.Debug("Using config file", "path", v.ConfigFileUsed())
	}
	return nil
}

func setupLogger(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}
