package app

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
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

var txIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// txEnricher fetches a transaction with its receipt, computes fee and
// confirmations, and normalizes to the canonical schema.
type txEnricher struct {
	pool   *Pool
	logger logger.LoggerInterface
	tracer trace.Tracer
}

func newTxEnricher(pool *Pool, log logger.LoggerInterface) *txEnricher {
	return &txEnricher{
		pool:   pool,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// get returns the canonical transaction, or nil when the peer does not know
// the id. tip may be zero to request a fresh tip lookup.
func (e *txEnricher) get(ctx context.Context, chain, network, txID string, tip uint64) (*domain.Transaction, error) {
	if chain == "" || network == "" {
		return nil, apperror.Validation(apperror.CodeRequiredField, "chain and network are required")
	}
	if !txIDPattern.MatchString(txID) {
		return nil, apperror.Validation(apperror.CodeInvalidTxID,
			fmt.Sprintf("transaction id %q is not a 32-byte hex hash", txID))
	}

	ctx, span := e.tracer.Start(ctx, "transactions.get",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
			attribute.String("txid", txID),
		),
	)
	defer span.End()

	h, err := e.pool.Acquire(ctx, chain, network, domain.CapabilityHistorical)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	raw, err := h.Client.TransactionByHash(ctx, common.HexToHash(txID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, apperror.New(apperror.CodeTransactionFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s tx %s", chain, network, txID)))
	}
	if raw == nil {
		span.AddEvent("not_found")
		span.SetStatus(codes.Ok, "not found")
		return nil, nil
	}

	if tip == 0 {
		tip, err = h.Client.TipHeight(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, apperror.New(apperror.CodeRPCError,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("tip height for %s/%s", chain, network)))
		}
	}

	// The transaction record has no timestamp of its own; take it from the
	// containing block header.
	var blockTime time.Time
	if raw.BlockHash != (common.Hash{}) {
		block, err := h.Client.BlockByHash(ctx, raw.BlockHash, false)
		if err != nil {
			span.RecordError(err)
			return nil, apperror.New(apperror.CodeRPCError,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("block %s for tx %s", raw.BlockHash, txID)))
		}
		if block != nil {
			blockTime = time.Unix(int64(block.Time), 0).UTC()
		}
	}

	tx := rawToTransaction(chain, network, raw, blockTime, tip)

	receipt, err := h.Client.TransactionReceipt(ctx, raw.Hash)
	if err != nil {
		span.RecordError(err)
		return nil, apperror.New(apperror.CodeReceiptFetchFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s tx %s", chain, network, txID)))
	}
	if receipt != nil {
		tx.Fee = receiptFee(receipt, raw.GasPrice)
	}

	span.SetStatus(codes.Ok, "fetched")
	return tx, nil
}

// receiptFee computes gasUsed * gasPrice in the gas price denomination,
// preferring the receipt's effective price when the peer reports one.
func receiptFee(receipt *RawReceipt, gasPrice *big.Int) *big.Int {
	price := gasPrice
	if receipt.EffectiveGasPrice != nil {
		price = receipt.EffectiveGasPrice
	}
	if price == nil {
		return nil
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price)
}
