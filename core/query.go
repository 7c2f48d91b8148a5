package core

import (
	"fmt"
	"math/big"

	"campusbazaar/core/state"
	"campusbazaar/native/escrow"
	"campusbazaar/native/reputation"
)

// GetListing returns the stored escrow instance.
func (n *Node) GetListing(id [32]byte) (*escrow.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	listing, ok, err := state.NewManager(n.db).ListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return listing, nil
}

// GetProfile returns the reputation profile for addr, if the account opted in.
func (n *Node) GetProfile(addr [20]byte) (*reputation.Profile, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return reputation.NewLedger(state.NewManager(n.db)).ProfileGet(addr)
}

// GetTotals returns the platform-wide reputation totals.
func (n *Node) GetTotals() (*reputation.Totals, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return reputation.NewLedger(state.NewManager(n.db)).TotalsGet()
}

// GetBalance returns the account balance in minor currency units.
func (n *Node) GetBalance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, err := state.NewManager(n.db).GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acct.Balance), nil
}

// GetNonce returns the next expected transaction nonce for addr.
func (n *Node) GetNonce(addr [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, err := state.NewManager(n.db).GetAccount(addr[:])
	if err != nil {
		return 0, err
	}
	return acct.Nonce, nil
}

// Credit mints amount into addr's balance. It exists for genesis allocations
// and test fixtures; it bypasses the transaction path deliberately and must
// not be exposed through RPC.
func (n *Node) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("core: credit amount must be positive")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	mgr := state.NewManager(n.db)
	acct, err := mgr.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acct.Balance = new(big.Int).Add(acct.Balance, amount)
	return mgr.PutAccount(addr[:], acct)
}
