package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/manifest-network/txbench/internal/client"
	"github.com/manifest-network/txbench/internal/config"
	"github.com/manifest-network/txbench/internal/models"
	"github.com/manifest-network/txbench/internal/output"
	"github.com/manifest-network/txbench/internal/utils"
)

// BlockFetcher retrieves one block by height.
type BlockFetcher interface {
	GetBlock(ctx context.Context, height uint64) (*models.Block, error)
}

// Result summarizes a collection run.
type Result struct {
	Identifiers   []string
	BlocksScanned uint64
	BlocksSkipped uint64
	Retries       uint64
	LastBlock     uint64
	// Persisted records, per output handler name, whether the write succeeded.
	Persisted map[string]bool
}

// Collect scans blocks from cfg.StartBlock upwards until cfg.TargetCount non-coinbase
// transaction hashes are gathered, then hands the list to every output handler.
// Handler write failures are logged and reported in Result.Persisted, not returned.
func Collect(ctx context.Context, fetcher BlockFetcher, cfg config.CollectConfig, handlers ...output.OutputHandler) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collect config: %w", err)
	}

	slog.Info("Collecting transaction hashes", "target", cfg.TargetCount, "startBlock", cfg.StartBlock, "baseURL", cfg.BaseURL)

	var bar *progressbar.ProgressBar
	if cfg.ShowProgress {
		bar = newProgressBar(cfg.TargetCount)
		if err := bar.RenderBlank(); err != nil {
			return nil, fmt.Errorf("failed to render progress bar: %w", err)
		}
	}

	res, err := scanBlocks(ctx, fetcher, cfg, bar)
	if err != nil {
		return nil, err
	}

	if bar != nil {
		if err := bar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}

	res.Persisted = make(map[string]bool, len(handlers))
	for _, h := range handlers {
		if err := h.WriteIdentifiers(ctx, res.Identifiers); err != nil {
			slog.Error("Failed to write transaction hashes", "output", h.Name(), "error", err)
			res.Persisted[h.Name()] = false
			continue
		}
		slog.Info("Saved transaction hashes", "output", h.Name(), "count", len(res.Identifiers))
		res.Persisted[h.Name()] = true
	}

	return res, nil
}

func scanBlocks(ctx context.Context, fetcher BlockFetcher, cfg config.CollectConfig, bar *progressbar.ProgressBar) (*Result, error) {
	target := int(cfg.TargetCount)
	res := &Result{Identifiers: make([]string, 0, target)}

	for cursor := cfg.StartBlock; len(res.Identifiers) < target; cursor++ {
		height := cursor
		block, retries, err := utils.DoWithRetry(ctx, cfg.MaxRetries, cfg.RetryDelay, client.IsTransient, func() (*models.Block, error) {
			slog.Debug("Fetching block", "url", utils.BlockURL(cfg.BaseURL, height))
			return fetcher.GetBlock(ctx, height)
		})
		res.Retries += uint64(retries)

		switch {
		case err == nil:
			added := appendUserTransactions(res, block, target)
			slog.Debug("Collected transaction hashes", "height", height, "added", added, "collected", len(res.Identifiers), "target", target)
			if bar != nil && added > 0 {
				if err := bar.Add(added); err != nil {
					slog.Warn("Failed to update progress bar", "error", err)
				}
			}
		case errors.Is(err, utils.ErrRetriesExhausted):
			// Client timeouts also match context.DeadlineExceeded, so this must be checked first.
			return nil, fmt.Errorf("failed to fetch block %d: %w", height, err)
		case ctx.Err() != nil:
			slog.Info("Collection cancelled", "height", height, "collected", len(res.Identifiers))
			return nil, err
		case errors.Is(err, client.ErrBlockNotFound):
			slog.Warn("Block not found, skipping", "height", height)
			res.BlocksSkipped++
		default:
			slog.Warn("Skipping block", "height", height, "error", err)
			res.BlocksSkipped++
		}

		res.BlocksScanned++
		res.LastBlock = height

		if len(res.Identifiers) < target {
			if err := utils.SleepContext(ctx, cfg.InterRequestDelay); err != nil {
				return nil, err
			}
		}
	}

	res.Identifiers = res.Identifiers[:target]
	return res, nil
}

// appendUserTransactions adds the block's non-coinbase hashes until target is reached and
// returns how many were added.
func appendUserTransactions(res *Result, block *models.Block, target int) int {
	added := 0
	for hash := range block.UserTransactions {
		res.Identifiers = append(res.Identifiers, hash)
		added++
		if len(res.Identifiers) >= target {
			break
		}
	}
	return added
}

func newProgressBar(target uint) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		int(target),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Collecting transaction hashes..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
