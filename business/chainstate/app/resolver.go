package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
)

// tipFunc supplies the current tip height when a selector leaves the range
// open-ended. It is only invoked when actually needed.
type tipFunc func(ctx context.Context) (uint64, error)

// rangeResolver turns heterogeneous block selectors into a concrete
// inclusive window. Hash and date lookups go through the external data API.
type rangeResolver struct {
	data   DataAPI
	chains ChainLookup
}

func newRangeResolver(data DataAPI, chains ChainLookup) *rangeResolver {
	return &rangeResolver{data: data, chains: chains}
}

// Resolve applies the selector precedence rules and returns the final range.
// The returned range is already clamped to the selector's limit and swapped
// for descending iteration when that order was requested.
func (r *rangeResolver) Resolve(ctx context.Context, chain, network string, sel domain.BlockSelector, tip tipFunc) (domain.BlockRange, error) {
	if chain == "" || network == "" {
		return domain.BlockRange{}, apperror.Validation(apperror.CodeRequiredField, "chain and network are required")
	}

	span := trace.SpanFromContext(ctx)
	limit := sel.EffectiveLimit()

	var start, end *uint64

	// The first matching selector wins; later ones are ignored rather than
	// combined.
	switch {
	case sel.BlockID != "":
		// A long identifier is a block hash, a short one a decimal height.
		// Either pins the range to a single height.
		height, err := r.resolveBlockID(ctx, chain, network, sel.BlockID)
		if err != nil {
			return domain.BlockRange{}, err
		}
		start, end = &height, &height
	case !sel.Date.IsZero() && sel.StartDate.IsZero():
		// A single calendar date expands to [date, date+1d).
		s, e, err := r.resolveDates(ctx, chain, network, sel.Date, sel.Date.AddDate(0, 0, 1))
		if err != nil {
			return domain.BlockRange{}, err
		}
		start, end = &s, &e
	case !sel.StartDate.IsZero():
		s, e, err := r.resolveDates(ctx, chain, network, sel.StartDate, sel.EndDate)
		if err != nil {
			return domain.BlockRange{}, err
		}
		start, end = &s, &e
	case sel.Since != nil:
		s := *sel.Since
		e := s + limit
		start, end = &s, &e
	}

	if end == nil {
		t, err := tip(ctx)
		if err != nil {
			return domain.BlockRange{}, apperror.New(apperror.CodeRangeResolution,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("tip lookup for %s/%s", chain, network)))
		}
		end = &t
	}
	if start == nil {
		s := *end
		if s > 0 {
			s--
		}
		start = &s
	}

	if *end > *start && *end-*start > limit {
		e := *start + limit
		end = &e
	}

	rng := domain.BlockRange{Start: *start, End: *end}
	if sel.EffectiveSort() == domain.SortDescending {
		rng.Start, rng.End = rng.End, rng.Start
	}

	span.SetAttributes(
		attribute.Int64("range.start", int64(rng.Start)),
		attribute.Int64("range.end", int64(rng.End)),
	)
	return rng, nil
}

// resolveBlockID turns a block identifier into a height. Identifiers of 64
// or more characters are treated as block hashes; anything else must be the
// canonical decimal rendering of a height.
func (r *rangeResolver) resolveBlockID(ctx context.Context, chain, network, blockID string) (uint64, error) {
	if len(blockID) >= 64 {
		chainID, err := r.chains.ChainID(chain, network)
		if err != nil {
			return 0, apperror.Validation(apperror.CodeRequiredField, err.Error())
		}
		height, err := r.data.BlockHeightByHash(ctx, chainID, blockID)
		if err != nil {
			return 0, apperror.New(apperror.CodeRangeResolution,
				apperror.WithCause(err),
				apperror.WithContext("height-by-hash lookup"))
		}
		return height, nil
	}

	height, err := strconv.ParseUint(blockID, 10, 64)
	if err != nil || strconv.FormatUint(height, 10) != blockID {
		// Catches malformed heights such as "12a" or zero-padded "007".
		return 0, apperror.Validation(apperror.CodeInvalidBlockID,
			fmt.Sprintf("block identifier %q is not a block hash or canonical height", blockID))
	}
	return height, nil
}

// resolveDates maps both ends of a date interval to heights independently.
func (r *rangeResolver) resolveDates(ctx context.Context, chain, network string, from, to time.Time) (uint64, uint64, error) {
	if to.IsZero() {
		return 0, 0, apperror.Validation(apperror.CodeRequiredField, "end date is required with start date")
	}
	chainID, err := r.chains.ChainID(chain, network)
	if err != nil {
		return 0, 0, apperror.Validation(apperror.CodeRequiredField, err.Error())
	}

	start, err := r.data.BlockHeightByDate(ctx, chainID, from.UTC())
	if err != nil {
		return 0, 0, apperror.New(apperror.CodeDateLookupFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("start date %s", from.UTC().Format(time.RFC3339))))
	}
	end, err := r.data.BlockHeightByDate(ctx, chainID, to.UTC())
	if err != nil {
		return 0, 0, apperror.New(apperror.CodeDateLookupFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("end date %s", to.UTC().Format(time.RFC3339))))
	}
	return start, end, nil
}
