package loadprofile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manifest-network/txbench/internal/utils"
)

// RunnerConfig controls how many users run and for how long.
type RunnerConfig struct {
	Users uint
	// SpawnRate is the number of users whose task loops start per second; 0 starts all at once.
	SpawnRate float64
	// RunTime bounds the run; 0 runs until the context is cancelled.
	RunTime time.Duration
}

// Runner hosts simulated users. All users are started with OnStart before any task runs.
type Runner struct {
	cfg     RunnerConfig
	newUser func(id int) User
	stats   *Stats
}

func NewRunner(cfg RunnerConfig, stats *Stats, newUser func(id int) User) *Runner {
	return &Runner{cfg: cfg, newUser: newUser, stats: stats}
}

// Run starts every user and drives their task loops until RunTime elapses or ctx is cancelled.
// A failing OnStart aborts the run with a *FatalError before any task has executed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.cfg.Users == 0 {
		return Summary{}, fmt.Errorf("runner needs at least one user")
	}

	users := make([]User, r.cfg.Users)
	for i := range users {
		u := r.newUser(i)
		if err := u.OnStart(ctx); err != nil {
			var fatal *FatalError
			if !errors.As(err, &fatal) {
				fatal = &FatalError{Err: err}
			}
			slog.Error("Aborting run, user failed to start", "user", i, "error", fatal.Err)
			return Summary{}, fatal
		}
		users[i] = u
	}
	slog.Info("Users started", "users", len(users), "spawnRate", r.cfg.SpawnRate, "runTime", r.cfg.RunTime)

	if r.cfg.RunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTime)
		defer cancel()
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i, u := range users {
		delay := r.spawnDelay(i)
		eg.Go(func() error {
			return runUser(ctx, u, delay)
		})
	}
	if err := eg.Wait(); err != nil {
		return r.stats.Summary(), fmt.Errorf("load run failed: %w", err)
	}

	sum := r.stats.Summary()
	slog.Info("Load run finished", "requests", sum.Requests, "failures", sum.Failures, "meanLatency", sum.MeanLatency)
	return sum, nil
}

func (r *Runner) spawnDelay(i int) time.Duration {
	if r.cfg.SpawnRate <= 0 {
		return 0
	}
	return time.Duration(float64(i) / r.cfg.SpawnRate * float64(time.Second))
}

func runUser(ctx context.Context, u User, delay time.Duration) error {
	if err := utils.SleepContext(ctx, delay); err != nil {
		return nil
	}
	for ctx.Err() == nil {
		u.Task(ctx)
		if err := utils.SleepContext(ctx, u.WaitTime()); err != nil {
			return nil
		}
	}
	return nil
}
