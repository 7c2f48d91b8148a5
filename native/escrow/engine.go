package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"campusbazaar/core/events"
	"campusbazaar/core/types"
	nativecommon "campusbazaar/native/common"
)

const moduleName = "escrow"

var (
	errNilState        = errors.New("escrow engine: state not configured")
	errListingNotFound = errors.New("escrow engine: listing not found")

	// ErrNotFound is the exported form surfaced to RPC callers.
	ErrNotFound = errListingNotFound
)

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(id [32]byte) (*Listing, bool, error)
	ListingRemove(id [32]byte) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the listing escrow state machine with external state and event
// emitters. Every operation validates all of its preconditions before the
// first state write, so a rejection leaves no observable effect.
type Engine struct {
	state   engineState
	emitter events.Emitter
	roundFn func() uint64
	pauses  nativecommon.PauseView
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		roundFn: func() uint64 { return 0 },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRoundFunc configures the monotonic round source supplied by the host
// runtime. The engine never reads wall-clock time.
func (e *Engine) SetRoundFunc(round func() uint64) {
	if round == nil {
		e.roundFn = func() uint64 { return 0 }
		return
	}
	e.roundFn = round
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the module pause view consulted on entry.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) round() uint64 {
	if e == nil || e.roundFn == nil {
		return 0
	}
	return e.roundFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadListing(id [32]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok, err := e.state.ListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errListingNotFound
	}
	return listing, nil
}

func (e *Engine) storeListing(l *Listing) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.ListingPut(l)
}

// transfer moves value between two accounts tracked by the state backend.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// CreateParams is the ordered creation payload of a listing.
type CreateParams struct {
	Title           string
	Price           *big.Int
	Category        string
	CO2SavedGrams   uint64
	EcoPointsValue  uint64
	PlatformFeeAddr [20]byte
}

// Create initialises and persists a new listing escrow owned by seller. The
// nonce makes the derived instance identifier unique per submission.
func (e *Engine) Create(seller [20]byte, nonce [32]byte, params CreateParams) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	price := cloneBigInt(params.Price)
	if price.Cmp(big.NewInt(MinListingPrice)) < 0 {
		return nil, fmt.Errorf("escrow: price below minimum of %d", MinListingPrice)
	}
	if len(params.Title) > MaxTitleBytes {
		return nil, fmt.Errorf("escrow: title exceeds %d bytes", MaxTitleBytes)
	}
	if params.PlatformFeeAddr == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: platform fee address required")
	}
	id := ListingID(seller, nonce)
	if _, ok, err := e.state.ListingGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("escrow: listing already exists")
	}
	listing := &Listing{
		ID:              id,
		Seller:          seller,
		Price:           price,
		Title:           params.Title,
		Category:        params.Category,
		CO2SavedGrams:   params.CO2SavedGrams,
		EcoPointsValue:  params.EcoPointsValue,
		PlatformFeeAddr: params.PlatformFeeAddr,
		Status:          StatusOpen,
		CreatedAtRound:  e.round(),
	}
	if err := e.storeListing(listing); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(listing))
	return listing.Clone(), nil
}

// Fund locks the buyer's payment into the instance vault. The payment must be
// the second half of the caller's atomic group: sent by the caller, addressed
// to this instance's vault, for exactly the listing price, with no alternate
// remainder destination. Every condition is checked against the paired
// payment before either half takes effect.
func (e *Engine) Fund(id [32]byte, caller [20]byte, payment *types.Transaction) error {
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, err := transitions.Require(listing.Status, OpFund); err != nil {
		return fmt.Errorf("escrow: cannot fund in status %s", listing.Status)
	}
	if caller == listing.Seller {
		return fmt.Errorf("escrow: seller cannot buy own listing")
	}
	if payment == nil || payment.Type != types.TxTypePayment {
		return fmt.Errorf("escrow: funding requires a paired payment")
	}
	if payment.Sender != caller {
		return fmt.Errorf("escrow: paired payment must be sent by the caller")
	}
	if payment.Receiver != VaultAddress(id) {
		return fmt.Errorf("escrow: paired payment must be addressed to the instance vault")
	}
	if payment.Amount == nil || payment.Amount.Cmp(listing.Price) != 0 {
		return fmt.Errorf("escrow: paired payment must equal the listing price")
	}
	if payment.CloseTo != ([20]byte{}) {
		return fmt.Errorf("escrow: paired payment must not divert remainder funds")
	}
	if err := e.transfer(payment.Sender, payment.Receiver, payment.Amount); err != nil {
		return err
	}
	listing.Buyer = caller
	listing.Status = StatusFunded
	listing.FundedAtRound = e.round()
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewFundedEvent(listing))
	return nil
}

// Confirm settles the escrow in favour of the seller after the buyer confirms
// delivery. The platform fee and the seller payout are issued together with
// the status change; if either transfer fails the operation aborts whole.
func (e *Engine) Confirm(id [32]byte, caller [20]byte) (*Listing, error) {
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if _, err := transitions.Require(listing.Status, OpConfirm); err != nil {
		return nil, fmt.Errorf("escrow: cannot confirm in status %s", listing.Status)
	}
	if caller != listing.Buyer {
		return nil, fmt.Errorf("escrow: only the buyer may confirm delivery")
	}
	if err := e.settleToSeller(listing); err != nil {
		return nil, err
	}
	listing.Status = StatusConfirmed
	listing.DisputeReason = ""
	if err := e.storeListing(listing); err != nil {
		return nil, err
	}
	e.emit(NewConfirmedEvent(listing))
	return listing.Clone(), nil
}

// Refund returns the locked payment to the buyer once the refund timeout has
// elapsed without a confirmation.
func (e *Engine) Refund(id [32]byte, caller [20]byte) error {
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, err := transitions.Require(listing.Status, OpRefund); err != nil {
		return fmt.Errorf("escrow: cannot refund in status %s", listing.Status)
	}
	if caller != listing.Buyer {
		return fmt.Errorf("escrow: only the buyer may request a refund")
	}
	if e.round() < listing.FundedAtRound+RefundTimeoutRounds {
		return fmt.Errorf("escrow: refund available at round %d", listing.FundedAtRound+RefundTimeoutRounds)
	}
	if err := e.transfer(VaultAddress(id), listing.Buyer, listing.Price); err != nil {
		return err
	}
	listing.Status = StatusRefunded
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(listing))
	return nil
}

// Dispute flags the escrow as disputed within the dispute window. No funds
// move until the dispute is resolved.
func (e *Engine) Dispute(id [32]byte, caller [20]byte, reason string) error {
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, err := transitions.Require(listing.Status, OpDispute); err != nil {
		return fmt.Errorf("escrow: cannot dispute in status %s", listing.Status)
	}
	if caller != listing.Buyer {
		return fmt.Errorf("escrow: only the buyer may raise a dispute")
	}
	if e.round() > listing.FundedAtRound+DisputeWindowRounds {
		return fmt.Errorf("escrow: dispute window closed at round %d", listing.FundedAtRound+DisputeWindowRounds)
	}
	listing.Status = StatusDisputed
	listing.DisputeReason = reason
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(listing))
	return nil
}

// Resolve settles a disputed escrow according to the verdict. "buyer" refunds
// the full price; "seller" produces the same fee split as Confirm.
func (e *Engine) Resolve(id [32]byte, caller [20]byte, verdict string) (*Listing, error) {
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	var op string
	switch verdict {
	case VerdictBuyer:
		op = OpResolveBuyer
	case VerdictSeller:
		op = OpResolveSeller
	default:
		return nil, fmt.Errorf("escrow: invalid resolution verdict %q", verdict)
	}
	next, err := transitions.Require(listing.Status, op)
	if err != nil {
		return nil, fmt.Errorf("escrow: cannot resolve in status %s", listing.Status)
	}
	if caller != listing.Seller {
		return nil, fmt.Errorf("escrow: only the seller may resolve a dispute")
	}
	switch next {
	case StatusRefunded:
		if err := e.transfer(VaultAddress(id), listing.Buyer, listing.Price); err != nil {
			return nil, err
		}
	case StatusConfirmed:
		if err := e.settleToSeller(listing); err != nil {
			return nil, err
		}
	}
	listing.Status = next
	listing.DisputeReason = ""
	if err := e.storeListing(listing); err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(listing, verdict))
	return listing.Clone(), nil
}

// Delete removes an instance that never left the Open state. No funds are
// held while Open, so removal is safe.
func (e *Engine) Delete(id [32]byte, caller [20]byte) error {
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, err := transitions.Require(listing.Status, OpDelete); err != nil {
		return fmt.Errorf("escrow: cannot delete in status %s", listing.Status)
	}
	if caller != listing.Seller {
		return fmt.Errorf("escrow: only the seller may delete the listing")
	}
	if err := e.state.ListingRemove(id); err != nil {
		return err
	}
	e.emit(NewDeletedEvent(listing))
	return nil
}

// ForceClose tears down a funded instance, refunding the full price to the
// buyer before the teardown completes. It is the safety net that prevents a
// removed instance from stranding locked funds.
func (e *Engine) ForceClose(id [32]byte) error {
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if _, err := transitions.Require(listing.Status, OpForceClose); err != nil {
		return fmt.Errorf("escrow: cannot force-close in status %s", listing.Status)
	}
	if err := e.transfer(VaultAddress(id), listing.Buyer, listing.Price); err != nil {
		return err
	}
	listing.Status = StatusRefunded
	if err := e.state.ListingRemove(id); err != nil {
		return err
	}
	e.emit(NewForceClosedEvent(listing))
	return nil
}

// Get returns a copy of the stored listing.
func (e *Engine) Get(id [32]byte) (*Listing, error) {
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// settleToSeller issues the fee and payout transfers out of the vault. The
// two amounts always sum to the exact price.
func (e *Engine) settleToSeller(listing *Listing) error {
	vault := VaultAddress(listing.ID)
	fee := PlatformFee(listing.Price)
	payout := SellerPayout(listing.Price)
	if fee.Sign() > 0 {
		if err := e.transfer(vault, listing.PlatformFeeAddr, fee); err != nil {
			return err
		}
	}
	if payout.Sign() > 0 {
		if err := e.transfer(vault, listing.Seller, payout); err != nil {
			return err
		}
	}
	return nil
}
