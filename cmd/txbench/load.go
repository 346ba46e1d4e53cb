package txbench

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/manifest-network/txbench/internal/config"
	"github.com/manifest-network/txbench/internal/loadprofile"
	"github.com/manifest-network/txbench/internal/metrics"
)

func newLoadCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Replay collected transaction hashes against the API under test",
		Long: `Start --users simulated users. Each loads --hashes-file on startup and then
repeatedly requests GET {host}/api/transaction/{hash} for a random hash,
waiting between --wait-min and --wait-max between requests.

A missing or unreadable hash file aborts the run before any request is sent.

Example:
  txbench load --host http://localhost:8081 --users 50 --run-time 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetLoadDefaults(v)
			cfg, err := config.LoadLoadConfig(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runLoad(cmd.Context(), cfg)
		},
	}

	d := config.DefaultLoadConfig()
	cmd.Flags().String(config.KeyHost, d.Host, "Base URL of the API under test")
	cmd.Flags().StringP(config.KeyHashesFile, "f", d.HashesFile, "JSON file with the transaction hashes to request")
	cmd.Flags().UintP(config.KeyUsers, "u", d.Users, "Number of simulated users")
	cmd.Flags().Float64(config.KeySpawnRate, d.SpawnRate, "Users started per second (0 starts all at once)")
	cmd.Flags().Duration(config.KeyRunTime, d.RunTime, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().Duration(config.KeyWaitMin, d.WaitMin, "Minimum wait between a user's requests")
	cmd.Flags().Duration(config.KeyWaitMax, d.WaitMax, "Maximum wait between a user's requests")
	cmd.Flags().Duration(config.KeyRequestTimeout, d.RequestTimeout, "Timeout of a single request")
	cmd.Flags().String(config.KeyMetricsAddr, "", "Serve prometheus metrics on this address, e.g. :9100")

	return cmd
}

func runLoad(ctx context.Context, cfg config.LoadConfig) error {
	reg := metrics.NewRegistry()
	stats, err := loadprofile.NewStats(reg)
	if err != nil {
		return err
	}

	httpClient := loadprofile.NewHTTPClient(cfg)
	runner := loadprofile.NewRunner(loadprofile.RunnerConfig{
		Users:     cfg.Users,
		SpawnRate: cfg.SpawnRate,
		RunTime:   cfg.RunTime,
	}, stats, func(id int) loadprofile.User {
		return loadprofile.NewTransactionUser(id, cfg, httpClient, stats)
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		eg.Go(func() error {
			return metrics.Serve(ctx, cfg.MetricsAddr, reg)
		})
	}
	eg.Go(func() error {
		defer cancel()
		_, err := runner.Run(ctx)
		return err
	})

	return eg.Wait()
}
