package state

import (
	"fmt"
	"math/big"

	"campusbazaar/core/types"
)

var accountPrefix = []byte("account:")

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

// GetAccount loads the account for addr. Unknown addresses resolve to a fresh
// zero-balance account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) != 20 {
		return nil, fmt.Errorf("state: account address must be 20 bytes")
	}
	var stored types.Account
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if stored.Balance == nil {
		stored.Balance = big.NewInt(0)
	}
	return &stored, nil
}

// PutAccount stores the account for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) != 20 {
		return fmt.Errorf("state: account address must be 20 bytes")
	}
	if account == nil {
		return fmt.Errorf("state: account required")
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must be non-negative")
	}
	return m.KVPut(accountKey(addr), account)
}
