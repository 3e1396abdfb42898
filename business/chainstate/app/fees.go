package app

import (
	"context"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/logger"
)

const (
	// feeHistoryWindow is how many recent blocks the estimator samples.
	feeHistoryWindow = 4000
	// feeRewardPercentile is the per-block priority fee percentile requested.
	feeRewardPercentile = 25.0
	// maxTargetBlocks caps the confirmation horizon.
	maxTargetBlocks = 4
)

// feeEstimator derives a suggested fee rate from recent fee history.
type feeEstimator struct {
	pool   *Pool
	logger logger.LoggerInterface
	tracer trace.Tracer
}

func newFeeEstimator(pool *Pool, log logger.LoggerInterface) *feeEstimator {
	return &feeEstimator{
		pool:   pool,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// estimate samples the fee-history window ending at the tip and returns the
// sample at the targetBlocks-th quartile of the descending-sorted sequence.
// A larger horizon yields an equal or lower suggested fee.
func (e *feeEstimator) estimate(ctx context.Context, chain, network string, targetBlocks int) (domain.FeeEstimate, error) {
	if targetBlocks < 1 {
		targetBlocks = 1
	}
	if targetBlocks > maxTargetBlocks {
		targetBlocks = maxTargetBlocks
	}

	ctx, span := e.tracer.Start(ctx, "fees.estimate",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
			attribute.Int("target_blocks", targetBlocks),
		),
	)
	defer span.End()

	h, err := e.pool.Acquire(ctx, chain, network, domain.CapabilityHistorical)
	if err != nil {
		span.RecordError(err)
		return domain.FeeEstimate{}, err
	}

	hist, err := h.Client.FeeHistory(ctx, feeHistoryWindow, []float64{feeRewardPercentile})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fee history failed")
		e.logger.Error(ctx, "fee history fetch failed",
			"chain", chain, "network", network, "error", err)
		return domain.FeeEstimate{}, apperror.New(apperror.CodeFeeHistoryFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s", chain, network)))
	}

	samples := make(domain.FeeSamples, 0, len(hist.Reward))
	for i, rewards := range hist.Reward {
		sample := new(big.Int)
		// Pre-fee-market blocks report no base fee; adding zero is a no-op.
		if i < len(hist.BaseFee) && hist.BaseFee[i] != nil {
			sample.Add(sample, hist.BaseFee[i])
		}
		if len(rewards) > 0 && rewards[0] != nil {
			sample.Add(sample, rewards[0])
		}
		samples = append(samples, sample)
	}

	if len(samples) == 0 {
		err := apperror.New(apperror.CodeFeeWindowEmpty,
			apperror.WithContext(fmt.Sprintf("%s/%s", chain, network)))
		span.RecordError(err)
		return domain.FeeEstimate{}, err
	}

	samples.SortDescending()
	feerate := samples.QuartileMedian(targetBlocks)

	span.SetAttributes(attribute.String("feerate_wei", feerate.String()))
	span.SetStatus(codes.Ok, "estimated")

	return domain.FeeEstimate{Feerate: feerate, Blocks: targetBlocks}, nil
}
