package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction is the canonical transaction record served to the rest of the node.
type Transaction struct {
	Chain         string         `json:"chain"`
	Network       string         `json:"network"`
	TxID          common.Hash    `json:"txid"`
	BlockHeight   int64          `json:"blockHeight"`
	BlockHash     common.Hash    `json:"blockHash"`
	BlockTime     time.Time      `json:"blockTime"`
	Fee           *big.Int       `json:"fee,omitempty"`
	Value         *big.Int       `json:"value"`
	GasLimit      uint64         `json:"gasLimit"`
	GasPrice      *big.Int       `json:"gasPrice"`
	Nonce         uint64         `json:"nonce"`
	To            common.Address `json:"to"`
	From          common.Address `json:"from"`
	Data          []byte         `json:"data,omitempty"`
	Confirmations uint64         `json:"confirmations"`
}

// WithConfirmations returns a copy of the transaction annotated against tip.
func (t Transaction) WithConfirmations(tip uint64) Transaction {
	if t.BlockHeight >= 0 {
		t.Confirmations = Confirmations(tip, uint64(t.BlockHeight))
	}
	return t
}
