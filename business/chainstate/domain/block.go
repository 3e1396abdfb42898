package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Block is the canonical block record served to the rest of the node.
// Confirmations is computed against the tip at query time, never stored.
type Block struct {
	Chain         string         `json:"chain"`
	Network       string         `json:"network"`
	Height        uint64         `json:"height"`
	Hash          common.Hash    `json:"hash"`
	PreviousHash  common.Hash    `json:"previousBlockHash"`
	Time          time.Time      `json:"time"`
	TxCount       int            `json:"transactionCount"`
	Size          uint64         `json:"size"`
	Difficulty    *big.Int       `json:"difficulty"`
	GasUsed       uint64         `json:"gasUsed"`
	GasLimit      uint64         `json:"gasLimit"`
	BaseFee       *big.Int       `json:"baseFeePerGas,omitempty"`
	Confirmations uint64         `json:"confirmations"`
	Transactions  []*Transaction `json:"transactions,omitempty"`
}

// BlockRange is an inclusive block window derived fresh per request.
// Start > End means the caller asked for descending iteration; consumers
// must walk the range in that direction rather than treat it as invalid.
type BlockRange struct {
	Start uint64
	End   uint64
}

// Descending reports whether the range iterates from high to low heights.
func (r BlockRange) Descending() bool {
	return r.Start > r.End
}

// Heights expands the range into the concrete height sequence in iteration order.
func (r BlockRange) Heights() []uint64 {
	if r.Descending() {
		heights := make([]uint64, 0, r.Start-r.End+1)
		for h := r.Start; ; h-- {
			heights = append(heights, h)
			if h == r.End {
				break
			}
		}
		return heights
	}
	heights := make([]uint64, 0, r.End-r.Start+1)
	for h := r.Start; h <= r.End; h++ {
		heights = append(heights, h)
	}
	return heights
}

// Confirmations computes the confirmation count for a block at height h
// given the current tip. The tip block itself has one confirmation.
// Blocks above the tip have no defined confirmation count and yield zero.
func Confirmations(tip, h uint64) uint64 {
	if h > tip {
		return 0
	}
	return tip - h + 1
}
