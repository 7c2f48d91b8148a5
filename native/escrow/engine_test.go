package escrow

import (
	"math/big"
	"strings"
	"testing"

	"campusbazaar/core/events"
	"campusbazaar/core/types"
	nativecommon "campusbazaar/native/common"
)

type mockState struct {
	listings map[[32]byte]*Listing
	accounts map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[[32]byte]*Listing),
		accounts: make(map[string]*types.Account),
	}
}

func (m *mockState) ListingPut(l *Listing) error {
	m.listings[l.ID] = l.Clone()
	return nil
}

func (m *mockState) ListingGet(id [32]byte) (*Listing, bool, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (m *mockState) ListingRemove(id [32]byte) error {
	delete(m.listings, id)
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func (m *mockState) credit(addr [20]byte, amount int64) {
	m.accounts[string(addr[:])] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	if acc, ok := m.accounts[string(addr[:])]; ok {
		return acc.Balance
	}
	return big.NewInt(0)
}

type captureEmitter struct {
	types []string
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.types = append(c.types, evt.EventType())
}

func (c *captureEmitter) last() string {
	if len(c.types) == 0 {
		return ""
	}
	return c.types[len(c.types)-1]
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func nonce(b byte) [32]byte {
	var n [32]byte
	n[31] = b
	return n
}

func newTestEngine(state *mockState) (*Engine, *captureEmitter, *uint64) {
	round := uint64(100)
	emitter := &captureEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetRoundFunc(func() uint64 { return round })
	return engine, emitter, &round
}

func validParams() CreateParams {
	return CreateParams{
		Title:           "Calc textbook, 3rd edition",
		Price:           big.NewInt(5_000_000),
		Category:        "books",
		CO2SavedGrams:   400,
		EcoPointsValue:  40,
		PlatformFeeAddr: addr(0xFE),
	}
}

func TestCreateOpensListing(t *testing.T) {
	state := newMockState()
	engine, emitter, _ := newTestEngine(state)
	seller := addr(1)

	listing, err := engine.Create(seller, nonce(1), validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if listing.Status != StatusOpen {
		t.Fatalf("status = %s, want open", listing.Status)
	}
	if listing.Buyer != ([20]byte{}) {
		t.Fatalf("new listing must not carry a buyer")
	}
	if listing.CreatedAtRound != 100 {
		t.Fatalf("createdAtRound = %d, want 100", listing.CreatedAtRound)
	}
	if emitter.last() != EventTypeCreated {
		t.Fatalf("event = %q, want %q", emitter.last(), EventTypeCreated)
	}

	if _, err := engine.Create(seller, nonce(1), validParams()); err == nil {
		t.Fatalf("duplicate identifier must be rejected")
	}
}

func TestCreateValidation(t *testing.T) {
	state := newMockState()
	engine, _, _ := newTestEngine(state)
	seller := addr(1)

	params := validParams()
	params.Price = big.NewInt(MinListingPrice - 1)
	if _, err := engine.Create(seller, nonce(1), params); err == nil {
		t.Fatalf("price below minimum must be rejected")
	}
	params.Price = big.NewInt(MinListingPrice)
	if _, err := engine.Create(seller, nonce(1), params); err != nil {
		t.Fatalf("minimum price must be accepted: %v", err)
	}

	params = validParams()
	params.Title = strings.Repeat("a", MaxTitleBytes+1)
	if _, err := engine.Create(seller, nonce(2), params); err == nil {
		t.Fatalf("oversized title must be rejected")
	}
	params.Title = strings.Repeat("a", MaxTitleBytes)
	if _, err := engine.Create(seller, nonce(2), params); err != nil {
		t.Fatalf("title at the byte limit must be accepted: %v", err)
	}

	params = validParams()
	params.PlatformFeeAddr = [20]byte{}
	if _, err := engine.Create(seller, nonce(3), params); err == nil {
		t.Fatalf("zero platform fee address must be rejected")
	}
}

func createAndFund(t *testing.T, engine *Engine, state *mockState, seller, buyer [20]byte) *Listing {
	t.Helper()
	listing, err := engine.Create(seller, nonce(1), validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.credit(buyer, 10_000_000)
	payment := &types.Transaction{
		Type:     types.TxTypePayment,
		Sender:   buyer,
		Receiver: VaultAddress(listing.ID),
		Amount:   new(big.Int).Set(listing.Price),
	}
	if err := engine.Fund(listing.ID, buyer, payment); err != nil {
		t.Fatalf("fund: %v", err)
	}
	funded, err := engine.Get(listing.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return funded
}

func TestFundLocksPayment(t *testing.T) {
	state := newMockState()
	engine, emitter, round := newTestEngine(state)
	seller, buyer := addr(1), addr(2)
	*round = 150

	listing := createAndFund(t, engine, state, seller, buyer)
	if listing.Status != StatusFunded {
		t.Fatalf("status = %s, want funded", listing.Status)
	}
	if listing.Buyer != buyer {
		t.Fatalf("buyer not recorded")
	}
	if listing.FundedAtRound != 150 {
		t.Fatalf("fundedAtRound = %d, want 150", listing.FundedAtRound)
	}
	vault := state.balance(VaultAddress(listing.ID))
	if vault.Cmp(listing.Price) != 0 {
		t.Fatalf("vault = %s, want %s", vault, listing.Price)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("buyer balance = %s, want 5000000", got)
	}
	if emitter.last() != EventTypeFunded {
		t.Fatalf("event = %q, want %q", emitter.last(), EventTypeFunded)
	}
}

func TestFundRejections(t *testing.T) {
	state := newMockState()
	engine, _, _ := newTestEngine(state)
	seller, buyer := addr(1), addr(2)

	listing, err := engine.Create(seller, nonce(1), validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.credit(buyer, 10_000_000)
	state.credit(seller, 10_000_000)
	vault := VaultAddress(listing.ID)

	good := func(sender [20]byte) *types.Transaction {
		return &types.Transaction{
			Type:     types.TxTypePayment,
			Sender:   sender,
			Receiver: vault,
			Amount:   new(big.Int).Set(listing.Price),
		}
	}

	if err := engine.Fund(listing.ID, seller, good(seller)); err == nil {
		t.Fatalf("seller buying own listing must be rejected")
	}

	payment := good(buyer)
	payment.Amount = big.NewInt(4_999_999)
	if err := engine.Fund(listing.ID, buyer, payment); err == nil {
		t.Fatalf("underpayment must be rejected")
	}
	payment = good(buyer)
	payment.Amount = big.NewInt(5_000_001)
	if err := engine.Fund(listing.ID, buyer, payment); err == nil {
		t.Fatalf("overpayment must be rejected")
	}

	payment = good(buyer)
	payment.Receiver = addr(9)
	if err := engine.Fund(listing.ID, buyer, payment); err == nil {
		t.Fatalf("payment to a foreign receiver must be rejected")
	}

	payment = good(buyer)
	payment.CloseTo = addr(9)
	if err := engine.Fund(listing.ID, buyer, payment); err == nil {
		t.Fatalf("payment with a remainder destination must be rejected")
	}

	payment = good(addr(3))
	if err := engine.Fund(listing.ID, buyer, payment); err == nil {
		t.Fatalf("payment from a third party must be rejected")
	}

	// Rejections leave the instance open and untouched.
	stored, err := engine.Get(listing.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusOpen || stored.Buyer != ([20]byte{}) {
		t.Fatalf("rejected funding attempts must not mutate the listing")
	}
	if got := state.balance(vault); got.Sign() != 0 {
		t.Fatalf("vault must stay empty after rejections, got %s", got)
	}

	if err := engine.Fund(listing.ID, buyer, good(buyer)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Fund(listing.ID, addr(3), good(addr(3))); err == nil {
		t.Fatalf("double funding must be rejected")
	}
}

func TestConfirmSettlesWithFee(t *testing.T) {
	state := newMockState()
	engine, emitter, _ := newTestEngine(state)
	seller, buyer := addr(1), addr(2)
	listing := createAndFund(t, engine, state, seller, buyer)

	if _, err := engine.Confirm(listing.ID, seller); err == nil {
		t.Fatalf("only the buyer may confirm")
	}

	settled, err := engine.Confirm(listing.ID, buyer)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", settled.Status)
	}
	if got := state.balance(seller); got.Cmp(big.NewInt(4_950_000)) != 0 {
		t.Fatalf("seller payout = %s, want 4950000", got)
	}
	if got := state.balance(addr(0xFE)); got.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("platform fee = %s, want 50000", got)
	}
	if got := state.balance(VaultAddress(listing.ID)); got.Sign() != 0 {
		t.Fatalf("vault must be empty after settlement, got %s", got)
	}
	if emitter.last() != EventTypeConfirmed {
		t.Fatalf("event = %q, want %q", emitter.last(), EventTypeConfirmed)
	}

	// Confirmed is terminal.
	if _, err := engine.Confirm(listing.ID, buyer); err == nil {
		t.Fatalf("confirming a settled instance must be rejected")
	}
	if err := engine.Refund(listing.ID, buyer); err == nil {
		t.Fatalf("refunding a settled instance must be rejected")
	}
}

func TestRefundTimeout(t *testing.T) {
	state := newMockState()
	engine, _, round := newTestEngine(state)
	seller, buyer := addr(1), addr(2)
	*round = 200
	listing := createAndFund(t, engine, state, seller, buyer)

	*round = listing.FundedAtRound + RefundTimeoutRounds - 1
	if err := engine.Refund(listing.ID, buyer); err == nil {
		t.Fatalf("refund one round early must be rejected")
	}

	*round = listing.FundedAtRound + RefundTimeoutRounds
	if err := engine.Refund(listing.ID, seller); err == nil {
		t.Fatalf("only the buyer may request a refund")
	}
	if err := engine.Refund(listing.ID, buyer); err != nil {
		t.Fatalf("refund at the timeout round: %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("buyer balance = %s, want full restoration", got)
	}
	if got := state.balance(VaultAddress(listing.ID)); got.Sign() != 0 {
		t.Fatalf("vault must be empty after refund, got %s", got)
	}
	stored, err := engine.Get(listing.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusRefunded {
		t.Fatalf("status = %s, want refunded", stored.Status)
	}
}

func TestDisputeWindow(t *testing.T) {
	state := newMockState()
	engine, _, round := newTestEngine(state)
	seller, buyer := addr(1), addr(2)
	*round = 300
	listing := createAndFund(t, engine, state, seller, buyer)

	*round = listing.FundedAtRound + DisputeWindowRounds + 1
	if err := engine.Dispute(listing.ID, buyer, "never shipped"); err == nil {
		t.Fatalf("dispute after the window must be rejected")
	}

	*round = listing.FundedAtRound + DisputeWindowRounds
	if err := engine.Dispute(listing.ID, seller, "never shipped"); err == nil {
		t.Fatalf("only the buyer may dispute")
	}
	if err := engine.Dispute(listing.ID, buyer, "never shipped"); err != nil {
		t.Fatalf("dispute at the window edge: %v", err)
	}
	stored, err := engine.Get(listing.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusDisputed || stored.DisputeReason != "never shipped" {
		t.Fatalf("dispute not recorded: %+v", stored)
	}
	if got := state.balance(VaultAddress(listing.ID)); got.Cmp(listing.Price) != 0 {
		t.Fatalf("funds must stay locked while disputed")
	}
}

func TestResolveVerdicts(t *testing.T) {
	for _, tc := range []struct {
		verdict    string
		wantStatus ListingStatus
	}{
		{VerdictBuyer, StatusRefunded},
		{VerdictSeller, StatusConfirmed},
	} {
		state := newMockState()
		engine, _, _ := newTestEngine(state)
		seller, buyer := addr(1), addr(2)
		listing := createAndFund(t, engine, state, seller, buyer)
		if err := engine.Dispute(listing.ID, buyer, "damaged"); err != nil {
			t.Fatalf("dispute: %v", err)
		}

		if _, err := engine.Resolve(listing.ID, buyer, tc.verdict); err == nil {
			t.Fatalf("only the seller may resolve")
		}
		if _, err := engine.Resolve(listing.ID, seller, "split"); err == nil {
			t.Fatalf("unknown verdict must be rejected")
		}

		resolved, err := engine.Resolve(listing.ID, seller, tc.verdict)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.verdict, err)
		}
		if resolved.Status != tc.wantStatus {
			t.Fatalf("verdict %s: status = %s, want %s", tc.verdict, resolved.Status, tc.wantStatus)
		}
		if resolved.DisputeReason != "" {
			t.Fatalf("dispute reason must be cleared on resolution")
		}
		switch tc.wantStatus {
		case StatusRefunded:
			if got := state.balance(buyer); got.Cmp(big.NewInt(10_000_000)) != 0 {
				t.Fatalf("buyer verdict must refund the full price, got %s", got)
			}
		case StatusConfirmed:
			if got := state.balance(seller); got.Cmp(big.NewInt(4_950_000)) != 0 {
				t.Fatalf("seller verdict must pay out like confirm, got %s", got)
			}
			if got := state.balance(addr(0xFE)); got.Cmp(big.NewInt(50_000)) != 0 {
				t.Fatalf("seller verdict must charge the platform fee, got %s", got)
			}
		}
		if got := state.balance(VaultAddress(listing.ID)); got.Sign() != 0 {
			t.Fatalf("vault must be empty after resolution, got %s", got)
		}
	}
}

func TestDeleteOnlyWhileOpen(t *testing.T) {
	state := newMockState()
	engine, emitter, _ := newTestEngine(state)
	seller, buyer := addr(1), addr(2)

	listing, err := engine.Create(seller, nonce(1), validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Delete(listing.ID, buyer); err == nil {
		t.Fatalf("only the seller may delete")
	}
	if err := engine.Delete(listing.ID, seller); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if emitter.last() != EventTypeDeleted {
		t.Fatalf("event = %q, want %q", emitter.last(), EventTypeDeleted)
	}
	if _, err := engine.Get(listing.ID); err == nil {
		t.Fatalf("deleted listing must not be readable")
	}

	funded := createAndFund(t, engine, state, seller, buyer)
	if err := engine.Delete(funded.ID, seller); err == nil {
		t.Fatalf("funded listing must not be deletable")
	}
}

func TestForceCloseRefundsBuyer(t *testing.T) {
	state := newMockState()
	engine, emitter, _ := newTestEngine(state)
	seller, buyer := addr(1), addr(2)
	listing := createAndFund(t, engine, state, seller, buyer)

	if err := engine.ForceClose(listing.ID); err != nil {
		t.Fatalf("force close: %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("force close must refund the buyer, got %s", got)
	}
	if got := state.balance(VaultAddress(listing.ID)); got.Sign() != 0 {
		t.Fatalf("vault must be empty after force close, got %s", got)
	}
	if _, err := engine.Get(listing.ID); err == nil {
		t.Fatalf("force-closed listing must be removed")
	}
	if emitter.last() != EventTypeForceClosed {
		t.Fatalf("event = %q, want %q", emitter.last(), EventTypeForceClosed)
	}

	open, err := engine.Create(seller, nonce(7), validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.ForceClose(open.ID); err == nil {
		t.Fatalf("open listing must not be force-closable")
	}
}

func TestPausedModuleRejectsOperations(t *testing.T) {
	state := newMockState()
	engine, _, _ := newTestEngine(state)
	engine.SetPauses(nativecommon.NewPauseSet([]string{"escrow"}))

	if _, err := engine.Create(addr(1), nonce(1), validParams()); err == nil {
		t.Fatalf("paused module must reject create")
	}
}
