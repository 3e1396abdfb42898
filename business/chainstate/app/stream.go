package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/logger"
)

// streamMetrics holds OTEL metric instruments.
type streamMetrics struct {
	recordsEmitted metric.Int64Counter
	streamErrors   metric.Int64Counter
	sourcesOpened  metric.Int64Counter
}

// streamPipeline fans per-address history streams from the external data
// API into one output, pushing every record through parse, enrich and
// project stages before writing it as a JSON line.
type streamPipeline struct {
	data     DataAPI
	chains   ChainLookup
	enricher *txEnricher
	logger   logger.LoggerInterface
	tracer   trace.Tracer
	metrics  *streamMetrics
}

func newStreamPipeline(data DataAPI, chains ChainLookup, enricher *txEnricher, log logger.LoggerInterface) (*streamPipeline, error) {
	p := &streamPipeline{
		data:     data,
		chains:   chains,
		enricher: enricher,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}
	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return p, nil
}

// initMetrics initializes OTEL metric instruments.
func (p *streamPipeline) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	p.metrics = &streamMetrics{}

	p.metrics.recordsEmitted, err = meter.Int64Counter(
		"stream_records_emitted_total",
		metric.WithDescription("Transaction records written to output sinks"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}

	p.metrics.streamErrors, err = meter.Int64Counter(
		"stream_errors_total",
		metric.WithDescription("Streams terminated by an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.metrics.sourcesOpened, err = meter.Int64Counter(
		"stream_sources_opened_total",
		metric.WithDescription("Per-address source streams opened"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// run opens one source stream per address and merges them into w as JSON
// lines. Merged order is as-available; when ascending is set each source is
// requested in ascending order, but no global re-sort is imposed, so the
// merged order stays best-effort. Records already flushed before a failure
// are never retracted.
func (p *streamPipeline) run(ctx context.Context, chain, network string, addresses []string, tokenAddress string, ascending bool, tip uint64, w io.Writer) error {
	ctx, span := p.tracer.Start(ctx, "stream.run",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
			attribute.Int("addresses", len(addresses)),
			attribute.Bool("token_transfers", tokenAddress != ""),
		),
	)
	defer span.End()

	chainID, err := p.chains.ChainID(chain, network)
	if err != nil {
		span.RecordError(err)
		return apperror.Validation(apperror.CodeRequiredField, err.Error())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Hand-off is unbuffered: a source only pulls its next record after the
	// writer has drained the previous one, so a slow sink pauses upstream
	// reads instead of growing a buffer.
	merged := make(chan *domain.Transaction)

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addresses {
		g.Go(func() error {
			return p.streamAddress(gctx, chainID, chain, network, addr, tokenAddress, ascending, tip, merged)
		})
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.writeRecords(ctx, cancel, merged, w)
	}()

	srcErr := g.Wait()
	close(merged)
	sinkErr := <-writeErr

	// A failed write cancels the sources, so their context error is just
	// fallout; report the sink failure as the cause.
	if sinkErr != nil {
		p.metrics.streamErrors.Add(ctx, 1)
		span.RecordError(sinkErr)
		span.SetStatus(codes.Error, "sink failed")
		return sinkErr
	}
	if srcErr != nil {
		p.metrics.streamErrors.Add(ctx, 1)
		span.RecordError(srcErr)
		span.SetStatus(codes.Error, "source failed")
		return srcErr
	}

	span.SetStatus(codes.Ok, "completed")
	return nil
}

// streamAddress reads one source stream end to end, transforming each
// record and pushing it onto the merged channel.
func (p *streamPipeline) streamAddress(ctx context.Context, chainID uint64, chain, network, address, tokenAddress string, ascending bool, tip uint64, merged chan<- *domain.Transaction) error {
	opts := StreamOptions{Ascending: ascending}

	var (
		stream TxStream
		err    error
	)
	if tokenAddress != "" {
		stream, err = p.data.OpenTokenTransferStream(ctx, chainID, address, tokenAddress, opts)
	} else {
		stream, err = p.data.OpenAddressTxStream(ctx, chainID, address, opts)
	}
	if err != nil {
		p.logger.Error(ctx, "failed to open address stream",
			"chain", chain, "network", network, "address", address, "error", err)
		return apperror.New(apperror.CodeStreamOpenFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s address %s", chain, network, address)))
	}
	defer stream.Close()
	p.metrics.sourcesOpened.Add(ctx, 1)

	for raw := range stream.Records() {
		tx, err := p.transform(ctx, chain, network, raw, tip)
		if err != nil {
			p.logger.Error(ctx, "stream record transform failed",
				"chain", chain, "network", network, "address", address, "error", err)
			return err
		}

		select {
		case merged <- tx:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := stream.Err(); err != nil {
		// Distinct from open failures: records may already be flushed.
		p.logger.Error(ctx, "address stream interrupted mid-flight",
			"chain", chain, "network", network, "address", address, "error", err)
		return apperror.New(apperror.CodeStreamInterrupted,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s address %s", chain, network, address)))
	}
	return nil
}

// transform runs the fixed stage order on one raw record: parse, enrich
// the fee when absent, project with confirmations against the tip captured
// at stream start.
func (p *streamPipeline) transform(ctx context.Context, chain, network string, raw json.RawMessage, tip uint64) (*domain.Transaction, error) {
	rec, err := parseExternalRecord(raw)
	if err != nil {
		return nil, apperror.New(apperror.CodeUpstreamData,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s", chain, network)))
	}

	tx, err := rec.toTransaction(chain, network)
	if err != nil {
		return nil, apperror.New(apperror.CodeUpstreamData,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s tx %s", chain, network, rec.txID())))
	}

	if tx.Fee == nil {
		enriched, err := p.enricher.get(ctx, chain, network, tx.TxID.Hex(), tip)
		if err != nil {
			return nil, err
		}
		if enriched != nil {
			tx.Fee = enriched.Fee
			if tx.BlockTime.IsZero() {
				tx.BlockTime = enriched.BlockTime
			}
		}
	}

	projected := tx.WithConfirmations(tip)
	return &projected, nil
}

// writeRecords is the single sink writer. A write failure cancels the
// operation so blocked sources unwind promptly.
func (p *streamPipeline) writeRecords(ctx context.Context, cancel context.CancelFunc, merged <-chan *domain.Transaction, w io.Writer) error {
	enc := json.NewEncoder(w)
	for tx := range merged {
		if err := enc.Encode(tx); err != nil {
			cancel()
			// Drain so blocked senders can observe cancellation.
			for range merged {
			}
			return apperror.New(apperror.CodeSinkWriteFailed, apperror.WithCause(err))
		}
		p.metrics.recordsEmitted.Add(ctx, 1)
	}
	return nil
}

// externalTxRecord covers both the native-transaction and token-transfer
// record shapes of the external data API.
type externalTxRecord struct {
	Hash            string `json:"hash"`
	TransactionHash string `json:"transaction_hash"`
	Nonce           string `json:"nonce"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	GasPrice        string `json:"gas_price"`
	Input           string `json:"input"`
	ReceiptGasUsed  string `json:"receipt_gas_used"`
	BlockTimestamp  string `json:"block_timestamp"`
	BlockNumber     string `json:"block_number"`
	BlockHash       string `json:"block_hash"`
}

func parseExternalRecord(raw json.RawMessage) (*externalTxRecord, error) {
	var rec externalTxRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.txID() == "" {
		return nil, fmt.Errorf("record has no transaction hash")
	}
	return &rec, nil
}

func (r *externalTxRecord) txID() string {
	if r.Hash != "" {
		return r.Hash
	}
	return r.TransactionHash
}

// toTransaction projects the raw record into the canonical schema. Numeric
// fields arrive as decimal strings; any malformed one is an upstream data
// error rather than a silent zero.
func (r *externalTxRecord) toTransaction(chain, network string) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		Chain:       chain,
		Network:     network,
		TxID:        common.HexToHash(r.txID()),
		BlockHash:   common.HexToHash(r.BlockHash),
		To:          common.HexToAddress(r.ToAddress),
		From:        common.HexToAddress(r.FromAddress),
		BlockHeight: -1,
	}

	if r.BlockNumber != "" {
		height, err := strconv.ParseInt(r.BlockNumber, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("block_number %q: %w", r.BlockNumber, err)
		}
		tx.BlockHeight = height
	}
	if r.BlockTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, r.BlockTimestamp)
		if err != nil {
			return nil, fmt.Errorf("block_timestamp %q: %w", r.BlockTimestamp, err)
		}
		tx.BlockTime = ts.UTC()
	}
	if r.Value != "" {
		v, ok := new(big.Int).SetString(r.Value, 10)
		if !ok {
			return nil, fmt.Errorf("value %q is not a decimal integer", r.Value)
		}
		tx.Value = v
	}
	if r.Gas != "" {
		gas, err := strconv.ParseUint(r.Gas, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gas %q: %w", r.Gas, err)
		}
		tx.GasLimit = gas
	}
	if r.GasPrice != "" {
		price, ok := new(big.Int).SetString(r.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("gas_price %q is not a decimal integer", r.GasPrice)
		}
		tx.GasPrice = price
	}
	if r.Nonce != "" {
		nonce, err := strconv.ParseUint(r.Nonce, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("nonce %q: %w", r.Nonce, err)
		}
		tx.Nonce = nonce
	}
	if r.Input != "" {
		tx.Data = common.FromHex(r.Input)
	}

	// The fee is complete on the record itself when the API included the
	// receipt's gas usage; otherwise the enrichment stage fills it in.
	if r.ReceiptGasUsed != "" && r.GasPrice != "" {
		gasUsed, err := strconv.ParseUint(r.ReceiptGasUsed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("receipt_gas_used %q: %w", r.ReceiptGasUsed, err)
		}
		tx.Fee = new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), tx.GasPrice)
	}

	return tx, nil
}
