package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/logger"
)

const (
	tracerName = "github.com/JoKacar/bitcore/business/chainstate"
	meterName  = "github.com/JoKacar/bitcore/business/chainstate"
)

// Service is the external chain-state provider: it answers block,
// transaction, fee and address-history queries for EVM networks from
// pooled peer connections and the external historical data API.
type Service struct {
	pool     *Pool
	data     DataAPI
	wallets  WalletDirectory
	chains   ChainLookup
	resolver *rangeResolver
	blocks   *blockFetcher
	txs      *txEnricher
	fees     *feeEstimator
	stream   *streamPipeline
	logger   logger.LoggerInterface
	tracer   trace.Tracer
}

// NewService wires the chain-state service from its collaborators.
func NewService(pool *Pool, data DataAPI, wallets WalletDirectory, chains ChainLookup, log logger.LoggerInterface) (*Service, error) {
	txs := newTxEnricher(pool, log)
	stream, err := newStreamPipeline(data, chains, txs, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		pool:     pool,
		data:     data,
		wallets:  wallets,
		chains:   chains,
		resolver: newRangeResolver(data, chains),
		blocks:   newBlockFetcher(pool, log),
		txs:      txs,
		fees:     newFeeEstimator(pool, log),
		stream:   stream,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// GetFee suggests a fee rate for the given confirmation horizon.
func (s *Service) GetFee(ctx context.Context, chain, network string, targetBlocks int) (domain.FeeEstimate, error) {
	if chain == "" || network == "" {
		return domain.FeeEstimate{}, apperror.Validation(apperror.CodeRequiredField, "chain and network are required")
	}
	return s.fees.estimate(ctx, chain, network, targetBlocks)
}

// GetBlocks resolves the selector to a block window and returns canonical
// blocks in the order the window implies.
func (s *Service) GetBlocks(ctx context.Context, chain, network string, sel domain.BlockSelector) ([]*domain.Block, error) {
	rng, err := s.resolver.Resolve(ctx, chain, network, sel, s.tipFunc(chain, network))
	if err != nil {
		return nil, err
	}
	blocks, _, err := s.blocks.fetch(ctx, chain, network, rng, false)
	return blocks, err
}

// GetTransaction returns the canonical transaction, or nil when no peer
// knows the id.
func (s *Service) GetTransaction(ctx context.Context, chain, network, txID string) (*domain.Transaction, error) {
	return s.txs.get(ctx, chain, network, txID, 0)
}

// StreamTransactions writes one JSON line per transaction of the selected
// block window to w.
func (s *Service) StreamTransactions(ctx context.Context, chain, network string, sel domain.BlockSelector, w io.Writer) error {
	ctx, span := s.tracer.Start(ctx, "service.stream_transactions",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
		),
	)
	defer span.End()

	rng, err := s.resolver.Resolve(ctx, chain, network, sel, s.tipFunc(chain, network))
	if err != nil {
		span.RecordError(err)
		return err
	}
	blocks, _, err := s.blocks.fetch(ctx, chain, network, rng, true)
	if err != nil {
		span.RecordError(err)
		return err
	}

	enc := json.NewEncoder(w)
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if err := enc.Encode(tx); err != nil {
				span.RecordError(err)
				return apperror.New(apperror.CodeSinkWriteFailed, apperror.WithCause(err))
			}
		}
	}

	span.SetStatus(codes.Ok, "streamed")
	return nil
}

// StreamAddressTransactions streams one address's history to w as JSON
// lines. A token contract address switches to the token-transfer variant.
func (s *Service) StreamAddressTransactions(ctx context.Context, chain, network, address, tokenAddress string, w io.Writer) error {
	if chain == "" || network == "" {
		return apperror.Validation(apperror.CodeRequiredField, "chain and network are required")
	}
	if !common.IsHexAddress(address) {
		return apperror.Validation(apperror.CodeInvalidFormat,
			fmt.Sprintf("address %q is not a valid hex address", address))
	}
	if tokenAddress != "" && !common.IsHexAddress(tokenAddress) {
		return apperror.Validation(apperror.CodeInvalidFormat,
			fmt.Sprintf("token address %q is not a valid hex address", tokenAddress))
	}

	tip, err := s.tip(ctx, chain, network)
	if err != nil {
		return err
	}
	return s.stream.run(ctx, chain, network, []string{address}, tokenAddress, false, tip, w)
}

// StreamWalletTransactions resolves the wallet's address set and streams
// the merged history of all its addresses to w.
func (s *Service) StreamWalletTransactions(ctx context.Context, chain, network, walletID string, w io.Writer) error {
	if chain == "" || network == "" {
		return apperror.Validation(apperror.CodeRequiredField, "chain and network are required")
	}

	addresses, err := s.wallets.Addresses(ctx, chain, network, walletID)
	if err != nil {
		return apperror.New(apperror.CodeWalletNotFound,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("wallet %s", walletID)))
	}
	if len(addresses) == 0 {
		return nil
	}

	tip, err := s.tip(ctx, chain, network)
	if err != nil {
		return err
	}
	return s.stream.run(ctx, chain, network, addresses, "", false, tip, w)
}

// GetWalletBalanceAtTime returns the wallet's native balance at the block
// containing the given time. Historical snapshots carry no mempool view,
// so the unconfirmed portion is zero.
func (s *Service) GetWalletBalanceAtTime(ctx context.Context, chain, network, walletID string, t time.Time) (domain.Balance, error) {
	ctx, span := s.tracer.Start(ctx, "service.wallet_balance_at_time",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
			attribute.String("wallet", walletID),
		),
	)
	defer span.End()

	if chain == "" || network == "" {
		return domain.Balance{}, apperror.Validation(apperror.CodeRequiredField, "chain and network are required")
	}

	addresses, err := s.wallets.Addresses(ctx, chain, network, walletID)
	if err != nil {
		span.RecordError(err)
		return domain.Balance{}, apperror.New(apperror.CodeWalletNotFound,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("wallet %s", walletID)))
	}

	chainID, err := s.chains.ChainID(chain, network)
	if err != nil {
		span.RecordError(err)
		return domain.Balance{}, apperror.Validation(apperror.CodeRequiredField, err.Error())
	}

	height, err := s.data.BlockHeightByDate(ctx, chainID, t.UTC())
	if err != nil {
		span.RecordError(err)
		return domain.Balance{}, apperror.New(apperror.CodeDateLookupFailed,
			apperror.WithCause(err),
			apperror.WithContext(t.UTC().Format(time.RFC3339)))
	}

	confirmed := new(big.Int)
	for _, addr := range addresses {
		bal, err := s.data.NativeBalanceAtBlock(ctx, chainID, addr, height)
		if err != nil {
			span.RecordError(err)
			return domain.Balance{}, apperror.New(apperror.CodeBalanceLookup,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("address %s at height %d", addr, height)))
		}
		confirmed.Add(confirmed, bal)
	}

	span.SetStatus(codes.Ok, "computed")
	return domain.NewBalance(confirmed, nil), nil
}

// Pool exposes the connection pool for health checks and shutdown.
func (s *Service) Pool() *Pool {
	return s.pool
}

// TipHeight reports the current tip height for a network. Doubles as a
// readiness probe since it exercises the pool end to end.
func (s *Service) TipHeight(ctx context.Context, chain, network string) (uint64, error) {
	return s.tip(ctx, chain, network)
}

// tip fetches the current tip height through the pool.
func (s *Service) tip(ctx context.Context, chain, network string) (uint64, error) {
	h, err := s.pool.Acquire(ctx, chain, network, domain.CapabilityNode)
	if err != nil {
		return 0, err
	}
	tip, err := h.Client.TipHeight(ctx)
	if err != nil {
		return 0, apperror.New(apperror.CodeRPCError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("tip height for %s/%s", chain, network)))
	}
	return tip, nil
}

// tipFunc adapts tip for the range resolver, which only needs it when a
// selector leaves the window open-ended.
func (s *Service) tipFunc(chain, network string) tipFunc {
	return func(ctx context.Context) (uint64, error) {
		return s.tip(ctx, chain, network)
	}
}
