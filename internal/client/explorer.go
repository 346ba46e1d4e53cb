package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/manifest-network/txbench/internal/models"
)

var (
	// ErrBlockNotFound is returned when the explorer answers 404 for a height.
	ErrBlockNotFound = errors.New("block not found")
	// ErrMalformedBlock is returned when the response body is not the expected block shape.
	ErrMalformedBlock = errors.New("malformed block response")
	// ErrUnexpectedStatus is returned for any other non-2xx answer.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// TransientError marks a connection failure or timeout. The same request may succeed later.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ExplorerClient queries a block explorer's `GET {base}/{height}` endpoint.
type ExplorerClient struct {
	http *resty.Client
}

func NewExplorerClient(baseURL string, timeout time.Duration) *ExplorerClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "txbench")

	return &ExplorerClient{http: httpClient}
}

type blockResponse struct {
	Data *struct {
		Txs *[]struct {
			Hash     *string `json:"tx_hash"`
			Coinbase *bool   `json:"coinbase"`
		} `json:"txs"`
	} `json:"data"`
}

// GetBlock fetches a single block by height.
func (c *ExplorerClient) GetBlock(ctx context.Context, height uint64) (*models.Block, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("height", strconv.FormatUint(height, 10)).
		Get("/{height}")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: errors.WithMessagef(err, "request for block %d failed", height)}
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, errors.WithMessagef(ErrBlockNotFound, "height %d", height)
	case resp.IsError():
		return nil, fmt.Errorf("%w %d for block %d", ErrUnexpectedStatus, resp.StatusCode(), height)
	}

	return decodeBlock(height, resp.Body())
}

func decodeBlock(height uint64, body []byte) (*models.Block, error) {
	var payload blockResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w for block %d: %w", ErrMalformedBlock, height, err)
	}
	if payload.Data == nil || payload.Data.Txs == nil {
		return nil, fmt.Errorf("%w for block %d: missing data.txs", ErrMalformedBlock, height)
	}

	block := &models.Block{
		Height:       height,
		Transactions: make([]models.Transaction, 0, len(*payload.Data.Txs)),
	}
	for i, tx := range *payload.Data.Txs {
		if tx.Hash == nil || tx.Coinbase == nil {
			return nil, fmt.Errorf("%w for block %d: transaction %d lacks tx_hash or coinbase", ErrMalformedBlock, height, i)
		}
		block.Transactions = append(block.Transactions, models.Transaction{Hash: *tx.Hash, Coinbase: *tx.Coinbase})
	}
	return block, nil
}
