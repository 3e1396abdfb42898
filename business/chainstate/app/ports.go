// Package app contains application services and port definitions for the
// chainstate context.
package app

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
)

// RawBlock is a peer block record before canonical transformation.
type RawBlock struct {
	Height       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Time         uint64
	Size         uint64
	Difficulty   *big.Int
	GasUsed      uint64
	GasLimit     uint64
	BaseFee      *big.Int
	TxCount      int
	Transactions []RawTransaction
}

// RawTransaction is a peer transaction record before canonical transformation.
// BlockHeight is -1 for pending transactions.
type RawTransaction struct {
	Hash        common.Hash
	From        common.Address
	To          common.Address
	Value       *big.Int
	Gas         uint64
	GasPrice    *big.Int
	Nonce       uint64
	Input       []byte
	BlockHeight int64
	BlockHash   common.Hash
}

// RawReceipt carries the receipt fields needed for fee accounting.
type RawReceipt struct {
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Status            uint64
}

// FeeHistory is a window of per-block fee data ending at the tip.
// Reward carries one slice per block with one value per requested percentile.
type FeeHistory struct {
	OldestBlock uint64
	BaseFee     []*big.Int
	Reward      [][]*big.Int
}

// NodeClient is the narrow contract a network peer client must satisfy.
// Lookups that find nothing return nil results with a nil error; errors are
// reserved for transport and peer failures.
type NodeClient interface {
	// TipHeight returns the highest known block height. It doubles as the
	// pool's liveness probe, so implementations keep it cheap.
	TipHeight(ctx context.Context) (uint64, error)

	// BlockByHeight fetches one block, with full transactions when fullTx is set.
	BlockByHeight(ctx context.Context, height uint64, fullTx bool) (*RawBlock, error)

	// BlockByHash fetches one block by hash.
	BlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (*RawBlock, error)

	// BlocksByHeights fetches many blocks in a single batched round trip,
	// returned in the order of the requested heights.
	BlocksByHeights(ctx context.Context, heights []uint64, fullTx bool) ([]*RawBlock, error)

	// TransactionByHash fetches a transaction by id.
	TransactionByHash(ctx context.Context, hash common.Hash) (*RawTransaction, error)

	// TransactionReceipt fetches the receipt for a mined transaction.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*RawReceipt, error)

	// FeeHistory fetches per-block fee data for blockCount recent blocks
	// ending at the tip, at the given reward percentiles.
	FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*FeeHistory, error)

	// Reconnect re-establishes the underlying connection in place.
	Reconnect(ctx context.Context) error

	// Close releases the connection.
	Close()
}

// Dialer establishes new peer connections from configured endpoints.
type Dialer interface {
	Dial(ctx context.Context, chain, network string, capability domain.Capability) (NodeClient, error)
}

// TxStream is one open per-address transaction stream from the external
// data API. Records is closed when the stream ends; Err reports the
// terminal error, nil after a clean end. Close tears the stream down early.
type TxStream interface {
	Records() <-chan json.RawMessage
	Err() error
	Close() error
}

// StreamOptions adjusts how a per-address stream is requested.
type StreamOptions struct {
	Ascending bool
	FromBlock *uint64
	ToBlock   *uint64
}

// DataAPI is the contract required of the third-party historical data API.
// All lookups are scoped by the numeric chain id.
type DataAPI interface {
	OpenAddressTxStream(ctx context.Context, chainID uint64, address string, opts StreamOptions) (TxStream, error)
	OpenTokenTransferStream(ctx context.Context, chainID uint64, address, tokenAddress string, opts StreamOptions) (TxStream, error)
	BlockHeightByDate(ctx context.Context, chainID uint64, t time.Time) (uint64, error)
	BlockHeightByHash(ctx context.Context, chainID uint64, hash string) (uint64, error)
	NativeBalanceAtBlock(ctx context.Context, chainID uint64, address string, height uint64) (*big.Int, error)
}

// WalletDirectory resolves a wallet id to its owned address set.
type WalletDirectory interface {
	Addresses(ctx context.Context, chain, network, walletID string) ([]string, error)
}

// ChainLookup supplies locally indexed chain metadata, most importantly the
// numeric chain id used to scope external data API calls.
type ChainLookup interface {
	ChainID(chain, network string) (uint64, error)
}
