package loadprofile

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/manifest-network/txbench/internal/config"
	"github.com/manifest-network/txbench/internal/output"
)

const (
	// TransactionPath is the endpoint of the API under test.
	TransactionPath = "/api/transaction/{tx_hash}"
	// TransactionRequestName groups every transaction lookup under one statistics entry.
	TransactionRequestName = "/api/transaction/[tx_hash]"
)

// FatalError aborts the whole run. Users return it from OnStart when they cannot operate at all.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// User is one simulated client driven by a Runner.
type User interface {
	// OnStart prepares the user. A non-nil error aborts the run before any task executes.
	OnStart(ctx context.Context) error
	// Task performs one iteration of the user's behaviour.
	Task(ctx context.Context)
	// WaitTime returns the pause before the next Task.
	WaitTime() time.Duration
}

// TransactionUser requests random transactions, by hash, from the API under test.
type TransactionUser struct {
	id         int
	hashesFile string
	waitMin    time.Duration
	waitMax    time.Duration
	http       *resty.Client
	stats      *Stats
	hashes     []string
}

func NewTransactionUser(id int, cfg config.LoadConfig, httpClient *resty.Client, stats *Stats) *TransactionUser {
	return &TransactionUser{
		id:         id,
		hashesFile: cfg.HashesFile,
		waitMin:    cfg.WaitMin,
		waitMax:    cfg.WaitMax,
		http:       httpClient,
		stats:      stats,
	}
}

// NewHTTPClient builds the client shared by all users of a run.
func NewHTTPClient(cfg config.LoadConfig) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.Host).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", "txbench")
}

// OnStart loads the identifier list. An empty list is allowed; tasks then become no-ops.
func (u *TransactionUser) OnStart(_ context.Context) error {
	hashes, err := output.ReadIdentifiers(u.hashesFile)
	if err != nil {
		if errors.Is(err, output.ErrIdentifiersNotFound) {
			slog.Error("Transaction hash file not found, run the collector first", "user", u.id, "path", u.hashesFile)
		} else {
			slog.Error("Could not load transaction hashes", "user", u.id, "path", u.hashesFile, "error", err)
		}
		return &FatalError{Err: err}
	}

	u.hashes = hashes
	slog.Debug("Loaded transaction hashes", "user", u.id, "count", len(hashes), "path", u.hashesFile)
	if len(hashes) == 0 {
		slog.Warn("Transaction hash file is empty, no transactions to test", "user", u.id, "path", u.hashesFile)
	}
	return nil
}

func (u *TransactionUser) Task(ctx context.Context) {
	u.FetchRandomTransaction(ctx)
}

// FetchRandomTransaction requests one uniformly chosen transaction. Failures only show up in the stats.
func (u *TransactionUser) FetchRandomTransaction(ctx context.Context) {
	if len(u.hashes) == 0 {
		slog.Warn("No transaction hashes available to test", "user", u.id)
		return
	}

	hash := u.hashes[rand.IntN(len(u.hashes))]
	start := time.Now()
	resp, err := u.http.R().
		SetContext(ctx).
		SetPathParam("tx_hash", hash).
		Get(TransactionPath)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		// Requests cut short by the end of the run are not counted.
		return
	}

	code := 0
	if resp != nil {
		code = resp.StatusCode()
	}
	u.stats.Record(TransactionRequestName, http.MethodGet, code, elapsed, err)
}

// WaitTime is uniformly distributed in [waitMin, waitMax].
func (u *TransactionUser) WaitTime() time.Duration {
	return Between(u.waitMin, u.waitMax)
}

// Between returns a uniformly random duration in [lo, hi].
func Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
