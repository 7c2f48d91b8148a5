package reputation

import (
	"errors"

	"campusbazaar/core/events"
	"campusbazaar/core/types"
	nativecommon "campusbazaar/native/common"
)

const moduleName = "reputation"

var errNilLedger = errors.New("reputation engine: ledger not configured")

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// Engine exposes the reputation ledger operations. Trade reports are
// authorized against an explicit allow-list of registered escrow-instance
// identities; college verification is authorized against the configured
// operator. No shared admin key is consulted for trade recording.
type Engine struct {
	ledger   *Ledger
	emitter  events.Emitter
	roundFn  func() uint64
	pauses   nativecommon.PauseView
	operator [20]byte
}

// NewEngine constructs an engine backed by the provided storage backend.
func NewEngine(store storage) *Engine {
	eng := &Engine{
		emitter: events.NoopEmitter{},
		roundFn: func() uint64 { return 0 },
	}
	if store != nil {
		eng.ledger = NewLedger(store)
	}
	return eng
}

// SetRoundFunc configures the monotonic round source supplied by the host
// runtime.
func (e *Engine) SetRoundFunc(round func() uint64) {
	if round == nil {
		e.roundFn = func() uint64 { return 0 }
		return
	}
	e.roundFn = round
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the module pause view consulted on entry.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetOperator configures the identity allowed to verify college emails.
func (e *Engine) SetOperator(addr [20]byte) { e.operator = addr }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(reputationEvent{evt: event})
}

func (e *Engine) round() uint64 {
	if e == nil || e.roundFn == nil {
		return 0
	}
	return e.roundFn()
}

// InitAccount zeroes all counters for caller and counts the account into the
// platform totals. Re-invocation resets the profile and counts again; the
// opt-in path carries no replay guard beyond this documented behaviour.
func (e *Engine) InitAccount(caller [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	totals, err := e.ledger.TotalsGet()
	if err != nil {
		return err
	}
	if err := e.ledger.ProfilePut(caller, &Profile{}); err != nil {
		return err
	}
	totals.TotalUsersOptedIn++
	if err := e.ledger.TotalsPut(totals); err != nil {
		return err
	}
	e.emit(NewOptedInEvent(caller))
	return nil
}

// RecordTrade credits both parties of a completed trade and bumps the
// platform totals. The reporter must be a registered escrow-instance
// identity; both accounts must already be opted in. All preconditions are
// checked before the first write.
func (e *Engine) RecordTrade(reporter, seller, buyer [20]byte, co2Grams, ecoPoints uint64) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	allowed, err := e.ledger.ReporterAllowed(reporter)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrReporterNotAllowed
	}
	sellerProfile, ok, err := e.ledger.ProfileGet(seller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProfileNotFound
	}
	buyerProfile, ok, err := e.ledger.ProfileGet(buyer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProfileNotFound
	}
	totals, err := e.ledger.TotalsGet()
	if err != nil {
		return err
	}

	now := e.round()
	sellerProfile.EcoPoints += ecoPoints + SellerBonusPoints
	sellerProfile.TradesCompleted++
	sellerProfile.TradesAsSeller++
	sellerProfile.CO2SavedGrams += co2Grams
	sellerProfile.LastTradeRound = now
	sellerProfile.Recompute()

	buyerProfile.EcoPoints += ecoPoints
	buyerProfile.TradesCompleted++
	buyerProfile.TradesAsBuyer++
	buyerProfile.CO2SavedGrams += co2Grams
	buyerProfile.LastTradeRound = now
	buyerProfile.Recompute()

	if err := e.ledger.ProfilePut(seller, sellerProfile); err != nil {
		return err
	}
	if err := e.ledger.ProfilePut(buyer, buyerProfile); err != nil {
		return err
	}
	totals.TotalCO2SavedGrams += co2Grams
	totals.TotalTradesCompleted++
	if err := e.ledger.TotalsPut(totals); err != nil {
		return err
	}
	e.emit(NewTradeRecordedEvent(reporter, seller, buyer, co2Grams, ecoPoints))
	return nil
}

// VerifyCollege marks target as college-verified and grants the one-time
// bonus. The transition is legal at most once per account.
func (e *Engine) VerifyCollege(caller, target [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.operator == ([20]byte{}) || caller != e.operator {
		return ErrNotOperator
	}
	profile, ok, err := e.ledger.ProfileGet(target)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProfileNotFound
	}
	verified, ok := verification.Next(profile.CollegeVerified, opVerify)
	if !ok {
		return ErrAlreadyVerified
	}
	profile.CollegeVerified = verified
	profile.EcoPoints += VerificationBonusPoints
	profile.Recompute()
	if err := e.ledger.ProfilePut(target, profile); err != nil {
		return err
	}
	e.emit(NewCollegeVerifiedEvent(target))
	return nil
}

// CloseAccount opts the caller out, discarding all per-account history with
// no archival, and decrements the opted-in total.
func (e *Engine) CloseAccount(caller [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	_, ok, err := e.ledger.ProfileGet(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProfileNotFound
	}
	totals, err := e.ledger.TotalsGet()
	if err != nil {
		return err
	}
	if err := e.ledger.ProfileRemove(caller); err != nil {
		return err
	}
	if totals.TotalUsersOptedIn > 0 {
		totals.TotalUsersOptedIn--
	}
	if err := e.ledger.TotalsPut(totals); err != nil {
		return err
	}
	e.emit(NewAccountClosedEvent(caller))
	return nil
}

// RegisterReporter adds an escrow-instance identity to the allow-list. The
// settlement runtime calls this when an instance is created.
func (e *Engine) RegisterReporter(addr [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	return e.ledger.ReporterRegister(addr)
}

// RevokeReporter removes an instance identity, typically on teardown.
func (e *Engine) RevokeReporter(addr [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	return e.ledger.ReporterRevoke(addr)
}

// GetProfile returns a copy of the stored profile.
func (e *Engine) GetProfile(addr [20]byte) (*Profile, bool, error) {
	if e == nil || e.ledger == nil {
		return nil, false, errNilLedger
	}
	profile, ok, err := e.ledger.ProfileGet(addr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return profile.Clone(), true, nil
}

// GetTotals returns a copy of the platform totals.
func (e *Engine) GetTotals() (*Totals, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	totals, err := e.ledger.TotalsGet()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}
