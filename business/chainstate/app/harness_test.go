package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/logger"
)

// testLogger implements logger.LoggerInterface and swallows everything.
type testLogger struct{}

func (testLogger) Debug(ctx context.Context, msg string, kv ...any) {}
func (testLogger) Info(ctx context.Context, msg string, kv ...any)  {}
func (testLogger) Warn(ctx context.Context, msg string, kv ...any)  {}
func (testLogger) Error(ctx context.Context, msg string, kv ...any) {}
func (l testLogger) With(kv ...any) logger.LoggerInterface          { return l }

var _ logger.LoggerInterface = testLogger{}

// fakeClient is a scriptable NodeClient.
type fakeClient struct {
	mu sync.Mutex

	tip          uint64
	tipErr       error
	reconnectErr error
	closed       bool

	blocks   map[uint64]*RawBlock
	byHash   map[common.Hash]*RawBlock
	txs      map[common.Hash]*RawTransaction
	receipts map[common.Hash]*RawReceipt
	history  *FeeHistory

	tipCalls       int
	reconnectCalls int
	batchCalls     int
}

func (c *fakeClient) TipHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tipCalls++
	if c.tipErr != nil {
		return 0, c.tipErr
	}
	return c.tip, nil
}

func (c *fakeClient) BlockByHeight(ctx context.Context, height uint64, fullTx bool) (*RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[height], nil
}

func (c *fakeClient) BlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (*RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byHash[hash], nil
}

func (c *fakeClient) BlocksByHeights(ctx context.Context, heights []uint64, fullTx bool) ([]*RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls++
	out := make([]*RawBlock, len(heights))
	for i, h := range heights {
		out[i] = c.blocks[h]
	}
	return out, nil
}

func (c *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*RawTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txs[hash], nil
}

func (c *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*RawReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash], nil
}

func (c *fakeClient) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*FeeHistory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.history == nil {
		return &FeeHistory{}, nil
	}
	return c.history, nil
}

func (c *fakeClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectCalls++
	if c.reconnectErr != nil {
		return c.reconnectErr
	}
	c.tipErr = nil
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// fakeDialer hands out clients in order, or a constant error.
type fakeDialer struct {
	mu      sync.Mutex
	clients []*fakeClient
	err     error
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, chain, network string, capability domain.Capability) (NodeClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.dials >= len(d.clients) {
		return nil, errors.New("fakeDialer: no more clients scripted")
	}
	c := d.clients[d.dials]
	d.dials++
	return c, nil
}

// newTestPool builds a pool whose dials hand out the given clients in order.
func newTestPool(clients ...*fakeClient) (*Pool, *fakeDialer, error) {
	d := &fakeDialer{clients: clients}
	p, err := NewPool(d, testLogger{})
	return p, d, err
}

// fakeStream replays scripted records then ends with err (nil for clean end).
type fakeStream struct {
	records []json.RawMessage
	err     error
	once    sync.Once
	ch      chan json.RawMessage
}

func newFakeStream(err error, records ...json.RawMessage) *fakeStream {
	return &fakeStream{records: records, err: err}
}

func (s *fakeStream) Records() <-chan json.RawMessage {
	s.once.Do(func() {
		s.ch = make(chan json.RawMessage)
		go func() {
			defer close(s.ch)
			for _, r := range s.records {
				s.ch <- r
			}
		}()
	})
	return s.ch
}

func (s *fakeStream) Err() error   { return s.err }
func (s *fakeStream) Close() error { return nil }

// fakeData is a scriptable DataAPI.
type fakeData struct {
	mu sync.Mutex

	streams      map[string]*fakeStream // by address
	tokenStreams map[string]*fakeStream
	heightByDate map[int64]uint64 // unix seconds -> height
	heightByHash map[string]uint64
	balances     map[string]*big.Int // address/height -> balance
	dateErr      error

	dateCalls int
}

func (d *fakeData) OpenAddressTxStream(ctx context.Context, chainID uint64, address string, opts StreamOptions) (TxStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[address]
	if !ok {
		return nil, errors.New("no stream scripted for " + address)
	}
	return s, nil
}

func (d *fakeData) OpenTokenTransferStream(ctx context.Context, chainID uint64, address, tokenAddress string, opts StreamOptions) (TxStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.tokenStreams[address]
	if !ok {
		return nil, errors.New("no token stream scripted for " + address)
	}
	return s, nil
}

func (d *fakeData) BlockHeightByDate(ctx context.Context, chainID uint64, t time.Time) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dateCalls++
	if d.dateErr != nil {
		return 0, d.dateErr
	}
	return d.heightByDate[t.UTC().Unix()], nil
}

func (d *fakeData) BlockHeightByHash(ctx context.Context, chainID uint64, hash string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.heightByHash[hash]
	if !ok {
		return 0, errors.New("unknown hash " + hash)
	}
	return h, nil
}

func (d *fakeData) NativeBalanceAtBlock(ctx context.Context, chainID uint64, address string, height uint64) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// fakeChains resolves every (chain, network) to one id.
type fakeChains struct {
	id  uint64
	err error
}

func (c *fakeChains) ChainID(chain, network string) (uint64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.id, nil
}

// fakeWallets maps wallet id -> addresses.
type fakeWallets struct {
	wallets map[string][]string
}

func (w *fakeWallets) Addresses(ctx context.Context, chain, network, walletID string) ([]string, error) {
	addrs, ok := w.wallets[walletID]
	if !ok {
		return nil, errors.New("unknown wallet " + walletID)
	}
	return addrs, nil
}
