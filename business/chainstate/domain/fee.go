package domain

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// FeeEstimate is a suggested fee rate for a confirmation horizon.
// Feerate is in the smallest native denomination (wei for EVM chains).
type FeeEstimate struct {
	Feerate *big.Int `json:"feerate"`
	Blocks  int      `json:"blocks"`
}

// FeerateGwei returns the fee rate in gwei for display purposes.
func (e FeeEstimate) FeerateGwei() decimal.Decimal {
	return decimal.NewFromBigInt(e.Feerate, -9)
}

// FeeSamples is one fee sample per block of a fee-history window, each
// sample being baseFeePerGas plus the requested percentile reward.
// Pre-fee-market blocks carry a zero base fee, which needs no special case.
type FeeSamples []*big.Int

// SortDescending orders the samples from highest to lowest. Comparison is
// exact big-integer comparison; equal samples compare equal and keep their
// relative order.
func (s FeeSamples) SortDescending() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Cmp(s[j]) > 0
	})
}

// QuartileMedian selects the sample at the q-th quarter boundary of a
// descending-sorted sample sequence. q=1 is the top-quarter boundary,
// q=4 the lower boundary of the full range, so a higher q trades priority
// for a lower suggested fee. Returns nil for an empty sample set.
func (s FeeSamples) QuartileMedian(q int) *big.Int {
	if len(s) == 0 {
		return nil
	}
	if q < 1 {
		q = 1
	}
	if q > 4 {
		q = 4
	}
	idx := len(s)*q/4 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}
