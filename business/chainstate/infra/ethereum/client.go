// Package ethereum implements the peer client contract with go-ethereum.
package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/circuitbreaker"
	"github.com/JoKacar/bitcore/internal/logger"
)

const (
	tracerName = "github.com/JoKacar/bitcore/business/chainstate/infra/ethereum"
	meterName  = "github.com/JoKacar/bitcore/business/chainstate/infra/ethereum"
)

// Ensure Client implements the peer client contract.
var _ app.NodeClient = (*Client)(nil)

// ClientConfig holds configuration for one peer connection.
type ClientConfig struct {
	URL     string
	Chain   string
	Network string
}

// clientMetrics holds OTEL metric instruments.
type clientMetrics struct {
	rpcCalls   metric.Int64Counter
	rpcErrors  metric.Int64Counter
	batchSizes metric.Int64Histogram
	reconnects metric.Int64Counter
}

// Client is a NodeClient backed by a go-ethereum RPC connection. The raw
// rpc.Client is kept alongside ethclient for batched calls.
type Client struct {
	config ClientConfig
	logger logger.LoggerInterface

	rpc      *rpc.Client
	eth      *ethclient.Client
	clientMu sync.RWMutex

	tipCB   *circuitbreaker.CircuitBreaker[uint64]
	batchCB *circuitbreaker.CircuitBreaker[[]*app.RawBlock]

	tracer  trace.Tracer
	metrics *clientMetrics
}

// NewClient dials the endpoint and returns a connected peer client.
func NewClient(ctx context.Context, cfg ClientConfig, log logger.LoggerInterface) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	c.initCircuitBreakers()

	if err := c.dial(ctx); err != nil {
		return nil, apperror.New(apperror.CodePeerConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s %s", cfg.Chain, cfg.Network, cfg.URL)))
	}

	return c, nil
}

// initMetrics initializes OTEL metric instruments.
func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.rpcCalls, err = meter.Int64Counter(
		"peer_rpc_calls_total",
		metric.WithDescription("Total peer RPC calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	c.metrics.rpcErrors, err = meter.Int64Counter(
		"peer_rpc_errors_total",
		metric.WithDescription("Total failed peer RPC calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	c.metrics.batchSizes, err = meter.Int64Histogram(
		"peer_rpc_batch_size",
		metric.WithDescription("Heights requested per batched block fetch"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	c.metrics.reconnects, err = meter.Int64Counter(
		"peer_reconnects_total",
		metric.WithDescription("In-place reconnect attempts"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// initCircuitBreakers initializes circuit breakers for the hot call paths.
func (c *Client) initCircuitBreakers() {
	tipCfg := circuitbreaker.DefaultConfig(fmt.Sprintf("%s-%s-tip", c.config.Chain, c.config.Network))
	tipCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	c.tipCB = circuitbreaker.New[uint64](tipCfg)

	batchCfg := circuitbreaker.DefaultConfig(fmt.Sprintf("%s-%s-batch", c.config.Chain, c.config.Network))
	c.batchCB = circuitbreaker.New[[]*app.RawBlock](batchCfg)
}

func (c *Client) dial(ctx context.Context) error {
	rpcClient, err := rpc.DialContext(ctx, c.config.URL)
	if err != nil {
		return err
	}

	c.clientMu.Lock()
	old := c.rpc
	c.rpc = rpcClient
	c.eth = ethclient.NewClient(rpcClient)
	c.clientMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (c *Client) clients() (*rpc.Client, *ethclient.Client) {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.rpc, c.eth
}

// TipHeight returns the highest known block height.
func (c *Client) TipHeight(ctx context.Context) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "peer.tip_height")
	defer span.End()

	c.metrics.rpcCalls.Add(ctx, 1)
	_, eth := c.clients()

	height, err := c.tipCB.Execute(func() (uint64, error) {
		return eth.BlockNumber(ctx)
	})
	if err != nil {
		c.metrics.rpcErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return 0, err
	}

	span.SetAttributes(attribute.Int64("height", int64(height)))
	span.SetStatus(codes.Ok, "fetched")
	return height, nil
}

// BlockByHeight fetches one block by number.
func (c *Client) BlockByHeight(ctx context.Context, height uint64, fullTx bool) (*app.RawBlock, error) {
	return c.blockByArg(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(height), fullTx)
}

// BlockByHash fetches one block by hash.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (*app.RawBlock, error) {
	return c.blockByArg(ctx, "eth_getBlockByHash", hash, fullTx)
}

func (c *Client) blockByArg(ctx context.Context, method string, arg any, fullTx bool) (*app.RawBlock, error) {
	ctx, span := c.tracer.Start(ctx, "peer.get_block",
		trace.WithAttributes(attribute.String("method", method)),
	)
	defer span.End()

	c.metrics.rpcCalls.Add(ctx, 1)
	rpcClient, _ := c.clients()

	var raw *rpcBlock
	if err := rpcClient.CallContext(ctx, &raw, method, arg, fullTx); err != nil {
		c.metrics.rpcErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	if raw == nil {
		span.AddEvent("not_found")
		return nil, nil
	}

	span.SetStatus(codes.Ok, "fetched")
	return raw.toRawBlock()
}

// BlocksByHeights fetches many blocks in one batched round trip, in the
// order of the requested heights.
func (c *Client) BlocksByHeights(ctx context.Context, heights []uint64, fullTx bool) ([]*app.RawBlock, error) {
	ctx, span := c.tracer.Start(ctx, "peer.get_blocks_batch",
		trace.WithAttributes(attribute.Int("count", len(heights))),
	)
	defer span.End()

	if len(heights) == 0 {
		return nil, nil
	}

	c.metrics.rpcCalls.Add(ctx, 1)
	c.metrics.batchSizes.Record(ctx, int64(len(heights)))
	rpcClient, _ := c.clients()

	blocks, err := c.batchCB.Execute(func() ([]*app.RawBlock, error) {
		raws := make([]*rpcBlock, len(heights))
		batch := make([]rpc.BatchElem, len(heights))
		for i, h := range heights {
			batch[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{hexutil.EncodeUint64(h), fullTx},
				Result: &raws[i],
			}
		}

		if err := rpcClient.BatchCallContext(ctx, batch); err != nil {
			return nil, err
		}

		out := make([]*app.RawBlock, len(heights))
		for i := range batch {
			if batch[i].Error != nil {
				return nil, fmt.Errorf("height %d: %w", heights[i], batch[i].Error)
			}
			if raws[i] == nil {
				continue
			}
			block, err := raws[i].toRawBlock()
			if err != nil {
				return nil, fmt.Errorf("height %d: %w", heights[i], err)
			}
			out[i] = block
		}
		return out, nil
	})
	if err != nil {
		c.metrics.rpcErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "fetched")
	return blocks, nil
}

// TransactionByHash fetches a transaction by id; nil means unknown.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*app.RawTransaction, error) {
	ctx, span := c.tracer.Start(ctx, "peer.get_transaction",
		trace.WithAttributes(attribute.String("txid", hash.Hex())),
	)
	defer span.End()

	c.metrics.rpcCalls.Add(ctx, 1)
	rpcClient, _ := c.clients()

	var raw *rpcTransaction
	if err := rpcClient.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		c.metrics.rpcErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	if raw == nil {
		span.AddEvent("not_found")
		return nil, nil
	}

	span.SetStatus(codes.Ok, "fetched")
	return raw.toRawTransaction(), nil
}

// TransactionReceipt fetches the receipt for a mined transaction; nil
// means no receipt exists.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*app.RawReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "peer.get_receipt",
		trace.WithAttributes(attribute.String("txid", hash.Hex())),
	)
	defer span.End()

	c.metrics.rpcCalls.Add(ctx, 1)
	rpcClient, _ := c.clients()

	var raw *rpcReceipt
	if err := rpcClient.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		c.metrics.rpcErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	if raw == nil {
		span.AddEvent("not_found")
		return nil, nil
	}

	span.SetStatus(codes.Ok, "fetched")
	return &app.RawReceipt{
		GasUsed:           uint64(raw.GasUsed),
		EffectiveGasPrice: (*big.Int)(raw.EffectiveGasPrice),
		Status:            uint64(raw.Status),
	}, nil
}

// FeeHistory fetches per-block fee data ending at the tip.
func (c *Client) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*app.FeeHistory, error) {
	ctx, span := c.tracer.Start(ctx, "peer.fee_history",
		trace.WithAttributes(attribute.Int64("block_count", int64(blockCount))),
	)
	defer span.End()

	c.metrics.rpcCalls.Add(ctx, 1)
	_, eth := c.clients()

	hist, err := eth.FeeHistory(ctx, blockCount, nil, rewardPercentiles)
	if err != nil {
		c.metrics.rpcErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	out := &app.FeeHistory{
		BaseFee: hist.BaseFee,
		Reward:  hist.Reward,
	}
	if hist.OldestBlock != nil {
		out.OldestBlock = hist.OldestBlock.Uint64()
	}

	span.SetStatus(codes.Ok, "fetched")
	return out, nil
}

// Reconnect re-dials the endpoint in place, keeping the same handle usable.
func (c *Client) Reconnect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "peer.reconnect",
		trace.WithAttributes(attribute.String("url", c.config.URL)),
	)
	defer span.End()

	c.metrics.reconnects.Add(ctx, 1)

	if err := c.dial(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconnect failed")
		return apperror.New(apperror.CodePeerConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("reconnect %s", c.config.URL)))
	}

	c.logger.Info(ctx, "peer reconnected",
		"chain", c.config.Chain, "network", c.config.Network, "url", c.config.URL)
	span.SetStatus(codes.Ok, "reconnected")
	return nil
}

// Close releases the connection.
func (c *Client) Close() {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
		c.eth = nil
	}
}

// Interface compliance for geth's own abstraction is not needed; the raw
// wire shapes below exist because batched calls return JSON, not types.Block.

type rpcBlock struct {
	Number       hexutil.Uint64    `json:"number"`
	Hash         common.Hash       `json:"hash"`
	ParentHash   common.Hash       `json:"parentHash"`
	Timestamp    hexutil.Uint64    `json:"timestamp"`
	Size         hexutil.Uint64    `json:"size"`
	Difficulty   *hexutil.Big      `json:"difficulty"`
	GasUsed      hexutil.Uint64    `json:"gasUsed"`
	GasLimit     hexutil.Uint64    `json:"gasLimit"`
	BaseFee      *hexutil.Big      `json:"baseFeePerGas"`
	Transactions []json.RawMessage `json:"transactions"`
}

type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Gas         hexutil.Uint64  `json:"gas"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	Input       hexutil.Bytes   `json:"input"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	BlockHash   *common.Hash    `json:"blockHash"`
}

type rpcReceipt struct {
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
	Status            hexutil.Uint64 `json:"status"`
}

func (b *rpcBlock) toRawBlock() (*app.RawBlock, error) {
	raw := &app.RawBlock{
		Height:     uint64(b.Number),
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Time:       uint64(b.Timestamp),
		Size:       uint64(b.Size),
		Difficulty: (*big.Int)(b.Difficulty),
		GasUsed:    uint64(b.GasUsed),
		GasLimit:   uint64(b.GasLimit),
		BaseFee:    (*big.Int)(b.BaseFee),
		TxCount:    len(b.Transactions),
	}

	for _, rawTx := range b.Transactions {
		// With fullTx the elements are objects; otherwise they are hash
		// strings and only the count matters.
		if len(rawTx) == 0 || rawTx[0] != '{' {
			continue
		}
		var tx rpcTransaction
		if err := json.Unmarshal(rawTx, &tx); err != nil {
			return nil, fmt.Errorf("decode block transaction: %w", err)
		}
		raw.Transactions = append(raw.Transactions, *tx.toRawTransaction())
	}

	return raw, nil
}

func (t *rpcTransaction) toRawTransaction() *app.RawTransaction {
	raw := &app.RawTransaction{
		Hash:        t.Hash,
		From:        t.From,
		Value:       (*big.Int)(t.Value),
		Gas:         uint64(t.Gas),
		GasPrice:    (*big.Int)(t.GasPrice),
		Nonce:       uint64(t.Nonce),
		Input:       t.Input,
		BlockHeight: -1,
	}
	if t.To != nil {
		raw.To = *t.To
	}
	if t.BlockNumber != nil {
		raw.BlockHeight = (*big.Int)(t.BlockNumber).Int64()
	}
	if t.BlockHash != nil {
		raw.BlockHash = *t.BlockHash
	}
	return raw
}

// Chain id sanity check used at startup; mismatched endpoints are a
// configuration error worth failing loudly on.
func (c *Client) VerifyChainID(ctx context.Context, want uint64) error {
	_, eth := c.clients()
	got, err := eth.ChainID(ctx)
	if err != nil {
		return err
	}
	if want != 0 && got.Uint64() != want {
		return fmt.Errorf("endpoint %s reports chain id %d, config says %d", c.config.URL, got.Uint64(), want)
	}
	return nil
}
