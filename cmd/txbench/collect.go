package txbench

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manifest-network/txbench/internal/client"
	"github.com/manifest-network/txbench/internal/collector"
	"github.com/manifest-network/txbench/internal/config"
	"github.com/manifest-network/txbench/internal/output"
	"github.com/manifest-network/txbench/internal/output/postgresql"
)

func newCollectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect non-coinbase transaction hashes from a block explorer",
		Long: `Walk the explorer's block endpoint ({base-url}/{height}) from --start-block
upwards until --target-count non-coinbase transaction hashes are collected,
then write them to --output as a JSON array.

Connection failures and timeouts retry the same block every --retry-delay,
forever unless --max-retries is set. Missing (404) and malformed blocks are
skipped.

Example:
  txbench collect --start-block 3000000 --target-count 100 --output tx_hashes.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetCollectDefaults(v)
			cfg, err := config.LoadCollectConfig(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx := cmd.Context()

			handlers := openOutputs(ctx, cfg)
			defer func() {
				for _, h := range handlers {
					if err := h.Close(); err != nil {
						slog.Warn("Failed to close output", "output", h.Name(), "error", err)
					}
				}
			}()

			explorer := client.NewExplorerClient(cfg.BaseURL, cfg.RequestTimeout)
			res, err := collector.Collect(ctx, explorer, cfg, handlers...)
			if err != nil {
				return fmt.Errorf("collection failed: %w", err)
			}

			slog.Info("Collection finished",
				"collected", len(res.Identifiers),
				"blocksScanned", res.BlocksScanned,
				"blocksSkipped", res.BlocksSkipped,
				"retries", res.Retries,
				"lastBlock", res.LastBlock)
			return nil
		},
	}

	d := config.DefaultCollectConfig()
	cmd.Flags().Uint64(config.KeyStartBlock, d.StartBlock, "Block height to start collecting from")
	cmd.Flags().Uint(config.KeyTargetCount, d.TargetCount, "Number of transaction hashes to collect")
	cmd.Flags().StringP(config.KeyOutput, "o", d.OutputPath, "Path of the JSON file to write")
	cmd.Flags().String(config.KeyBaseURL, d.BaseURL, "Block-lookup endpoint; blocks are fetched from {base-url}/{height}")
	cmd.Flags().Duration(config.KeyRequestTimeout, d.RequestTimeout, "Timeout of a single block request")
	cmd.Flags().Duration(config.KeyRetryDelay, d.RetryDelay, "Pause before retrying a block after a connection error or timeout")
	cmd.Flags().Duration(config.KeyInterRequestDelay, d.InterRequestDelay, "Pause between consecutive blocks")
	cmd.Flags().Uint(config.KeyMaxRetries, d.MaxRetries, "Consecutive retries allowed per block (0 retries forever)")
	cmd.Flags().Bool(config.KeyNoProgress, !d.ShowProgress, "Disable the progress bar")
	cmd.Flags().String(config.KeyPostgresDSN, "", "Also store the hashes in this PostgreSQL database")

	return cmd
}

// openOutputs returns the JSON file handler plus, when configured, the Postgres handler.
// A Postgres setup failure is logged and the run continues with the JSON file alone.
func openOutputs(ctx context.Context, cfg config.CollectConfig) []output.OutputHandler {
	handlers := []output.OutputHandler{output.NewJSONFileHandler(cfg.OutputPath)}
	if cfg.PostgresDSN == "" {
		return handlers
	}

	pg, err := postgresql.NewPostgresOutputHandler(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("Failed to set up postgres output, continuing with the JSON file only", "error", err)
		return handlers
	}
	return append(handlers, pg)
}
