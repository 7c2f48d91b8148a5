package types

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypePayment TxType = 0x01 // A transfer of value between accounts
	TxTypeCall    TxType = 0x02 // An operation against an escrow instance or the reputation ledger
)

// Transaction is one entry of a transaction group submitted to the settlement
// runtime. Payments carry Receiver/Amount; calls carry Selector/Target/Args.
// The runtime derives caller identity from Sender; signature verification is
// the wallet layer's concern and happens before submission.
type Transaction struct {
	Type   TxType   `json:"type"`
	Nonce  uint64   `json:"nonce"`
	Sender [20]byte `json:"sender"`

	Receiver [20]byte `json:"receiver,omitempty"`
	Amount   *big.Int `json:"amount,omitempty"`
	// CloseTo mirrors the alternate-remainder destination of the wire format.
	// It must be the zero address on escrow funding payments.
	CloseTo [20]byte `json:"closeTo,omitempty"`

	Selector string   `json:"selector,omitempty"`
	Target   [32]byte `json:"target,omitempty"`
	Args     []string `json:"args,omitempty"`
}

// Hash returns a stable identifier for the transaction contents.
func (tx *Transaction) Hash() ([]byte, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Clone returns a deep copy of the transaction.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	if tx.Amount != nil {
		clone.Amount = new(big.Int).Set(tx.Amount)
	}
	clone.Args = append([]string(nil), tx.Args...)
	return &clone
}
