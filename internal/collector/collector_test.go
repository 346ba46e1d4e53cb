package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/txbench/internal/client"
	"github.com/manifest-network/txbench/internal/config"
	"github.com/manifest-network/txbench/internal/models"
	"github.com/manifest-network/txbench/internal/output"
	"github.com/manifest-network/txbench/internal/utils"
)

// mockExplorer serves GET /api/block/{height}. Heights without an entry answer 404.
type mockExplorer struct {
	mu        sync.Mutex
	bodies    map[uint64]string
	requested []uint64
}

func (m *mockExplorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(path.Base(r.URL.Path), 10, 64)
	if err != nil {
		http.Error(w, "bad height", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requested = append(m.requested, height)
	body, ok := m.bodies[height]
	m.mu.Unlock()

	if !ok {
		http.Error(w, `{"status":"fail","data":{"title":"Block not found"}}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (m *mockExplorer) Requested() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.requested...)
}

// blockBody renders a block with one coinbase entry followed by n user transactions.
func blockBody(t *testing.T, height uint64, n int) string {
	t.Helper()
	txs := []map[string]any{{"tx_hash": fmt.Sprintf("%d-coinbase", height), "coinbase": true}}
	for i := range n {
		txs = append(txs, map[string]any{"tx_hash": txHash(height, i), "coinbase": false})
	}
	data, err := json.Marshal(map[string]any{"status": "success", "data": map[string]any{"block_height": height, "txs": txs}})
	require.NoError(t, err)
	return string(data)
}

func txHash(height uint64, i int) string {
	return fmt.Sprintf("%d-%03d", height, i)
}

func startExplorer(t *testing.T, bodies map[uint64]string) (*mockExplorer, *client.ExplorerClient, string) {
	t.Helper()
	m := &mockExplorer{bodies: bodies}
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	base := srv.URL + "/api/block"
	return m, client.NewExplorerClient(base, time.Second), base
}

func testConfig(t *testing.T, base string, start uint64, target uint) config.CollectConfig {
	t.Helper()
	cfg := config.DefaultCollectConfig()
	cfg.BaseURL = base
	cfg.StartBlock = start
	cfg.TargetCount = target
	cfg.OutputPath = filepath.Join(t.TempDir(), "tx_hashes.json")
	cfg.RetryDelay = time.Millisecond
	cfg.InterRequestDelay = 0
	cfg.ShowProgress = false
	return cfg
}

func readIDs(t *testing.T, p string) []string {
	t.Helper()
	ids, err := output.ReadIdentifiers(p)
	require.NoError(t, err)
	return ids
}

func TestCollectStopsOnceTargetReached(t *testing.T) {
	m, c, base := startExplorer(t, map[uint64]string{
		3000000: blockBody(t, 3000000, 50),
		3000001: blockBody(t, 3000001, 50),
		3000002: blockBody(t, 3000002, 50),
	})
	cfg := testConfig(t, base, 3000000, 100)

	res, err := Collect(context.Background(), c, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.NoError(t, err)

	ids := readIDs(t, cfg.OutputPath)
	require.Len(t, ids, 100)
	for i := range 50 {
		assert.Equal(t, txHash(3000000, i), ids[i])
		assert.Equal(t, txHash(3000001, i), ids[50+i])
	}
	assert.Equal(t, []uint64{3000000, 3000001}, m.Requested())
	assert.Equal(t, uint64(2), res.BlocksScanned)
	assert.Equal(t, uint64(3000001), res.LastBlock)
	assert.True(t, res.Persisted["json:"+cfg.OutputPath])
}

func TestCollectSkipsMissingBlock(t *testing.T) {
	m, c, base := startExplorer(t, map[uint64]string{
		3000001: blockBody(t, 3000001, 50),
	})
	cfg := testConfig(t, base, 3000000, 50)

	res, err := Collect(context.Background(), c, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.NoError(t, err)

	ids := readIDs(t, cfg.OutputPath)
	require.Len(t, ids, 50)
	for i, id := range ids {
		assert.Equal(t, txHash(3000001, i), id)
	}
	assert.Equal(t, []uint64{3000000, 3000001}, m.Requested())
	assert.Equal(t, uint64(1), res.BlocksSkipped)
	assert.Zero(t, res.Retries)
}

func TestCollectTruncatesLastBlock(t *testing.T) {
	_, c, base := startExplorer(t, map[uint64]string{
		10: blockBody(t, 10, 3),
		11: blockBody(t, 11, 10),
	})
	cfg := testConfig(t, base, 10, 5)

	res, err := Collect(context.Background(), c, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.NoError(t, err)

	want := []string{txHash(10, 0), txHash(10, 1), txHash(10, 2), txHash(11, 0), txHash(11, 1)}
	assert.Equal(t, want, readIDs(t, cfg.OutputPath))
	assert.Equal(t, want, res.Identifiers)
}

func TestCollectExcludesCoinbase(t *testing.T) {
	_, c, base := startExplorer(t, map[uint64]string{
		1: `{"data":{"txs":[{"tx_hash":"cb1","coinbase":true}]}}`,
		2: `{"data":{"txs":[{"tx_hash":"u1","coinbase":false},{"tx_hash":"cb2","coinbase":true},{"tx_hash":"u2","coinbase":false}]}}`,
	})
	cfg := testConfig(t, base, 1, 2)

	_, err := Collect(context.Background(), c, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, readIDs(t, cfg.OutputPath))
}

func TestCollectSkipsMalformedBlocks(t *testing.T) {
	m, c, base := startExplorer(t, map[uint64]string{
		1: `not json`,
		2: `{"data":{"txs":"nope"}}`,
		3: `{"data":{"txs":[{"tx_hash":"partial","coinbase":false},{"tx_hash":"broken"}]}}`,
		4: `{"data":{"txs":[{"tx_hash":"good","coinbase":false}]}}`,
	})
	cfg := testConfig(t, base, 1, 1)

	res, err := Collect(context.Background(), c, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, readIDs(t, cfg.OutputPath))
	assert.Equal(t, []uint64{1, 2, 3, 4}, m.Requested())
	assert.Equal(t, uint64(3), res.BlocksSkipped)
}

func TestCollectIsDeterministic(t *testing.T) {
	bodies := map[uint64]string{
		5: blockBody(t, 5, 7),
		7: blockBody(t, 7, 7),
		8: blockBody(t, 8, 7),
	}
	_, c, base := startExplorer(t, bodies)

	first := testConfig(t, base, 5, 12)
	second := testConfig(t, base, 5, 12)

	_, err := Collect(context.Background(), c, first, output.NewJSONFileHandler(first.OutputPath))
	require.NoError(t, err)
	_, err = Collect(context.Background(), c, second, output.NewJSONFileHandler(second.OutputPath))
	require.NoError(t, err)

	a, err := os.ReadFile(first.OutputPath)
	require.NoError(t, err)
	b, err := os.ReadFile(second.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// scriptedFetcher fails each height with the queued errors before serving its block.
type scriptedFetcher struct {
	failures map[uint64][]error
	blocks   map[uint64]*models.Block
	calls    []uint64
}

func (f *scriptedFetcher) GetBlock(_ context.Context, height uint64) (*models.Block, error) {
	f.calls = append(f.calls, height)
	if queued := f.failures[height]; len(queued) > 0 {
		f.failures[height] = queued[1:]
		return nil, queued[0]
	}
	if b, ok := f.blocks[height]; ok {
		return b, nil
	}
	return nil, client.ErrBlockNotFound
}

func userBlock(height uint64, hashes ...string) *models.Block {
	b := &models.Block{Height: height}
	for _, h := range hashes {
		b.Transactions = append(b.Transactions, models.Transaction{Hash: h})
	}
	return b
}

func transient() error {
	return &client.TransientError{Err: errors.New("connection refused")}
}

func TestCollectRetriesSameBlockOnTransientError(t *testing.T) {
	f := &scriptedFetcher{
		failures: map[uint64][]error{20: {transient(), transient(), transient()}},
		blocks:   map[uint64]*models.Block{20: userBlock(20, "a"), 21: userBlock(21, "b")},
	}
	cfg := testConfig(t, "http://explorer.test/api/block", 20, 2)

	res, err := Collect(context.Background(), f, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.NoError(t, err)
	assert.Equal(t, []uint64{20, 20, 20, 20, 21}, f.calls)
	assert.Equal(t, uint64(3), res.Retries)
	assert.Equal(t, []string{"a", "b"}, readIDs(t, cfg.OutputPath))
}

func TestCollectGivesUpAfterMaxRetries(t *testing.T) {
	f := &scriptedFetcher{
		failures: map[uint64][]error{20: {transient(), transient(), transient(), transient()}},
		blocks:   map[uint64]*models.Block{20: userBlock(20, "a")},
	}
	cfg := testConfig(t, "http://explorer.test/api/block", 20, 1)
	cfg.MaxRetries = 2

	res, err := Collect(context.Background(), f, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, utils.ErrRetriesExhausted)
	assert.Equal(t, []uint64{20, 20, 20}, f.calls)
	assert.NoFileExists(t, cfg.OutputPath)
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &scriptedFetcher{blocks: map[uint64]*models.Block{}}
	cfg := testConfig(t, "http://explorer.test/api/block", 1, 1)
	cfg.InterRequestDelay = time.Hour

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Collect(ctx, f, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, cfg.OutputPath)
}

type failingHandler struct{}

func (failingHandler) Name() string { return "broken" }
func (failingHandler) WriteIdentifiers(context.Context, []string) error {
	return errors.New("read-only file system")
}
func (failingHandler) Close() error { return nil }

func TestCollectWriteFailureIsNotFatal(t *testing.T) {
	f := &scriptedFetcher{blocks: map[uint64]*models.Block{1: userBlock(1, "a", "b")}}
	cfg := testConfig(t, "http://explorer.test/api/block", 1, 2)
	jsonHandler := output.NewJSONFileHandler(cfg.OutputPath)

	res, err := Collect(context.Background(), f, cfg, failingHandler{}, jsonHandler)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"broken": false, jsonHandler.Name(): true}, res.Persisted)
	assert.Equal(t, []string{"a", "b"}, readIDs(t, cfg.OutputPath))
}

func TestCollectRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://explorer.test/api/block", 1, 0)
	_, err := Collect(context.Background(), &scriptedFetcher{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target count")
}

func TestCollectTimeoutsExhaustRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	base := srv.URL + "/api/block"
	cfg := testConfig(t, base, 1, 1)
	cfg.MaxRetries = 1
	c := client.NewExplorerClient(base, 30*time.Millisecond)

	res, err := Collect(context.Background(), c, cfg, output.NewJSONFileHandler(cfg.OutputPath))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, utils.ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "failed to fetch block 1")
	assert.NoFileExists(t, cfg.OutputPath)
}
