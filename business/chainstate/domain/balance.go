package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Balance is a wallet balance snapshot in the smallest native denomination.
// Historical snapshots have no mempool view, so Unconfirmed is zero there.
type Balance struct {
	Confirmed   *big.Int `json:"confirmed"`
	Unconfirmed *big.Int `json:"unconfirmed"`
	Balance     *big.Int `json:"balance"`
}

// NewBalance builds a Balance from confirmed and unconfirmed amounts.
func NewBalance(confirmed, unconfirmed *big.Int) Balance {
	if confirmed == nil {
		confirmed = new(big.Int)
	}
	if unconfirmed == nil {
		unconfirmed = new(big.Int)
	}
	return Balance{
		Confirmed:   confirmed,
		Unconfirmed: unconfirmed,
		Balance:     new(big.Int).Add(confirmed, unconfirmed),
	}
}

// Ether returns the total balance in whole native units for display purposes.
func (b Balance) Ether() decimal.Decimal {
	return decimal.NewFromBigInt(b.Balance, -18)
}
