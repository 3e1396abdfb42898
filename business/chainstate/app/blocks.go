package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/logger"
)

// blockFetcher fetches a window of blocks in one batched round trip and
// produces canonical records with confirmation counts.
type blockFetcher struct {
	pool   *Pool
	logger logger.LoggerInterface
	tracer trace.Tracer
}

func newBlockFetcher(pool *Pool, log logger.LoggerInterface) *blockFetcher {
	return &blockFetcher{
		pool:   pool,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// fetch returns canonical blocks for every height in rng, in the iteration
// order the range implies. The tip is fetched once and reused for all
// confirmation counts; it is also returned for callers that annotate
// further records against the same tip.
func (f *blockFetcher) fetch(ctx context.Context, chain, network string, rng domain.BlockRange, fullTx bool) ([]*domain.Block, uint64, error) {
	ctx, span := f.tracer.Start(ctx, "blocks.fetch",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
			attribute.Int64("range.start", int64(rng.Start)),
			attribute.Int64("range.end", int64(rng.End)),
		),
	)
	defer span.End()

	h, err := f.pool.Acquire(ctx, chain, network, domain.CapabilityHistorical)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	tip, err := h.Client.TipHeight(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, 0, apperror.New(apperror.CodeRPCError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("tip height for %s/%s", chain, network)))
	}

	heights := rng.Heights()
	raws, err := h.Client.BlocksByHeights(ctx, heights, fullTx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch fetch failed")
		f.logger.Error(ctx, "batched block fetch failed",
			"chain", chain, "network", network,
			"start", rng.Start, "end", rng.End, "error", err)
		return nil, 0, apperror.New(apperror.CodeBatchFetchFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s range %d-%d", chain, network, rng.Start, rng.End)))
	}

	blocks := make([]*domain.Block, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			// A single missing block poisons the batch; report it rather
			// than return a silently short result.
			err := apperror.New(apperror.CodeBlockTransform,
				apperror.WithContext(fmt.Sprintf("height %d missing from batch response", heights[i])))
			span.RecordError(err)
			f.logger.Error(ctx, "block missing from batch response",
				"chain", chain, "network", network, "height", heights[i])
			return nil, 0, err
		}
		blocks = append(blocks, rawToBlock(chain, network, raw, tip))
	}

	span.SetStatus(codes.Ok, "fetched")
	return blocks, tip, nil
}

// rawToBlock maps a raw peer block into the canonical schema, computing
// confirmations against tip.
func rawToBlock(chain, network string, raw *RawBlock, tip uint64) *domain.Block {
	b := &domain.Block{
		Chain:         chain,
		Network:       network,
		Height:        raw.Height,
		Hash:          raw.Hash,
		PreviousHash:  raw.ParentHash,
		Time:          time.Unix(int64(raw.Time), 0).UTC(),
		TxCount:       raw.TxCount,
		Size:          raw.Size,
		Difficulty:    raw.Difficulty,
		GasUsed:       raw.GasUsed,
		GasLimit:      raw.GasLimit,
		BaseFee:       raw.BaseFee,
		Confirmations: domain.Confirmations(tip, raw.Height),
	}
	if len(raw.Transactions) > 0 {
		b.Transactions = make([]*domain.Transaction, 0, len(raw.Transactions))
		for i := range raw.Transactions {
			tx := rawToTransaction(chain, network, &raw.Transactions[i], b.Time, tip)
			b.Transactions = append(b.Transactions, tx)
		}
	}
	return b
}

// rawToTransaction maps a raw peer transaction into the canonical schema.
// Fee stays unset here; it needs the receipt, which the enricher supplies.
func rawToTransaction(chain, network string, raw *RawTransaction, blockTime time.Time, tip uint64) *domain.Transaction {
	tx := &domain.Transaction{
		Chain:       chain,
		Network:     network,
		TxID:        raw.Hash,
		BlockHeight: raw.BlockHeight,
		BlockHash:   raw.BlockHash,
		BlockTime:   blockTime,
		Value:       raw.Value,
		GasLimit:    raw.Gas,
		GasPrice:    raw.GasPrice,
		Nonce:       raw.Nonce,
		To:          raw.To,
		From:        raw.From,
		Data:        raw.Input,
	}
	if raw.BlockHeight >= 0 {
		tx.Confirmations = domain.Confirmations(tip, uint64(raw.BlockHeight))
	}
	return tx
}
