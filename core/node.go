package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"campusbazaar/core/events"
	"campusbazaar/core/state"
	"campusbazaar/core/types"
	nativecommon "campusbazaar/native/common"
	"campusbazaar/native/escrow"
	"campusbazaar/native/reputation"
	"campusbazaar/storage"
)

// Operation selectors accepted by the settlement runtime.
const (
	SelectorCreate       = "create_listing"
	SelectorFund         = "fund_escrow"
	SelectorConfirm      = "confirm"
	SelectorRefund       = "refund"
	SelectorDispute      = "dispute"
	SelectorResolve      = "resolve"
	SelectorDelete       = "delete_listing"
	SelectorForceClose   = "force_close"
	SelectorOptIn        = "opt_in"
	SelectorCloseAccount = "close_account"
	SelectorVerify       = "verify"
	SelectorRecordTrade  = "record_trade"
)

var (
	// ErrInvalidGroup marks transaction groups whose shape is not one of
	// the accepted forms.
	ErrInvalidGroup = errors.New("core: invalid transaction group shape")
	// ErrBadNonce marks a stale or premature sender nonce.
	ErrBadNonce = errors.New("core: transaction nonce mismatch")
)

var roundKey = []byte("meta/round")

// Node is the in-process settlement runtime. It executes transaction groups
// strictly one at a time in submission order, advances the monotonic round
// counter once per admitted group, and commits each group's effects through a
// storage overlay so a rejected group mutates nothing.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
	pauses  nativecommon.PauseView
	// operator is the platform identity allowed to verify college emails
	// and force-close instances.
	operator [20]byte
	round    uint64
}

// NewNode constructs a runtime over the provided database, resuming the round
// counter persisted by a previous run.
func NewNode(db storage.Database) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	n := &Node{db: db, emitter: events.NoopEmitter{}}
	mgr := state.NewManager(db)
	var round uint64
	ok, err := mgr.KVGet(roundKey, &round)
	if err != nil {
		return nil, err
	}
	if ok {
		n.round = round
	}
	return n, nil
}

// SetEmitter configures the downstream event emitter. Events for a group are
// buffered and forwarded only after the group commits.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SetPauses configures module pausing for both native engines.
func (n *Node) SetPauses(p nativecommon.PauseView) { n.pauses = p }

// SetOperator configures the platform operator identity.
func (n *Node) SetOperator(addr [20]byte) { n.operator = addr }

// CurrentRound returns the runtime's monotonic round counter.
func (n *Node) CurrentRound() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.round
}

// bufferEmitter collects events during group execution so nothing escapes
// when the group aborts.
type bufferEmitter struct {
	buf []events.Event
}

func (b *bufferEmitter) Emit(evt events.Event) { b.buf = append(b.buf, evt) }

// SubmitGroup executes one atomic transaction group. Either every effect of
// the group commits, or the group is rejected and no state changes. The round
// counter advances for every submission, admitted or not.
func (n *Node) SubmitGroup(txs []*types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.round++
	defer n.persistRound()

	if err := validateGroupShape(txs); err != nil {
		return err
	}

	overlay := storage.NewOverlay(n.db)
	mgr := state.NewManager(overlay)
	buffer := &bufferEmitter{}

	esc := escrow.NewEngine()
	esc.SetState(mgr)
	esc.SetEmitter(buffer)
	esc.SetPauses(n.pauses)
	esc.SetRoundFunc(func() uint64 { return n.round })

	rep := reputation.NewEngine(mgr)
	rep.SetEmitter(buffer)
	rep.SetPauses(n.pauses)
	rep.SetOperator(n.operator)
	rep.SetRoundFunc(func() uint64 { return n.round })

	if err := n.execute(mgr, esc, rep, txs); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	for _, evt := range buffer.buf {
		n.emitter.Emit(evt)
	}
	return nil
}

// validateGroupShape enforces the atomicity contract exposed to callers: the
// fund operation is exactly two paired transactions (the instance call, then
// the payment); every other operation is a single transaction.
func validateGroupShape(txs []*types.Transaction) error {
	for _, tx := range txs {
		if tx == nil {
			return ErrInvalidGroup
		}
	}
	switch len(txs) {
	case 1:
		tx := txs[0]
		if tx.Type == types.TxTypeCall && tx.Selector == SelectorFund {
			return fmt.Errorf("%w: fund_escrow requires a paired payment", ErrInvalidGroup)
		}
		return nil
	case 2:
		if txs[0].Type != types.TxTypeCall || txs[0].Selector != SelectorFund {
			return fmt.Errorf("%w: two-part groups must start with fund_escrow", ErrInvalidGroup)
		}
		if txs[1].Type != types.TxTypePayment {
			return fmt.Errorf("%w: second part of fund_escrow must be a payment", ErrInvalidGroup)
		}
		return nil
	default:
		return ErrInvalidGroup
	}
}

func (n *Node) execute(mgr *state.Manager, esc *escrow.Engine, rep *reputation.Engine, txs []*types.Transaction) error {
	head := txs[0]
	if err := consumeNonce(mgr, head); err != nil {
		return err
	}

	switch head.Type {
	case types.TxTypePayment:
		return applyPayment(mgr, head)
	case types.TxTypeCall:
		return n.dispatch(esc, rep, txs)
	default:
		return fmt.Errorf("core: unsupported transaction type %d", head.Type)
	}
}

func consumeNonce(mgr *state.Manager, tx *types.Transaction) error {
	acct, err := mgr.GetAccount(tx.Sender[:])
	if err != nil {
		return err
	}
	if tx.Nonce != acct.Nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrBadNonce, tx.Nonce, acct.Nonce)
	}
	acct.Nonce++
	return mgr.PutAccount(tx.Sender[:], acct)
}

// applyPayment executes a standalone value transfer.
func applyPayment(mgr *state.Manager, tx *types.Transaction) error {
	if tx.CloseTo != ([20]byte{}) {
		return fmt.Errorf("core: remainder destinations are not supported")
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return fmt.Errorf("core: payment amount must be positive")
	}
	from, err := mgr.GetAccount(tx.Sender[:])
	if err != nil {
		return err
	}
	if from.Balance.Cmp(tx.Amount) < 0 {
		return fmt.Errorf("core: insufficient balance")
	}
	to, err := mgr.GetAccount(tx.Receiver[:])
	if err != nil {
		return err
	}
	from.Balance = new(big.Int).Sub(from.Balance, tx.Amount)
	to.Balance = new(big.Int).Add(to.Balance, tx.Amount)
	if err := mgr.PutAccount(tx.Sender[:], from); err != nil {
		return err
	}
	return mgr.PutAccount(tx.Receiver[:], to)
}

func (n *Node) dispatch(esc *escrow.Engine, rep *reputation.Engine, txs []*types.Transaction) error {
	tx := txs[0]
	sender := tx.Sender
	switch tx.Selector {
	case SelectorCreate:
		params, err := parseCreateArgs(tx.Args)
		if err != nil {
			return err
		}
		nonce, err := creationNonce(tx)
		if err != nil {
			return err
		}
		listing, err := esc.Create(sender, nonce, params)
		if err != nil {
			return err
		}
		// The instance identity joins the trade-report allow-list for
		// the lifetime of the listing.
		return rep.RegisterReporter(escrow.VaultAddress(listing.ID))
	case SelectorFund:
		return esc.Fund(tx.Target, sender, txs[1])
	case SelectorConfirm:
		listing, err := esc.Confirm(tx.Target, sender)
		if err != nil {
			return err
		}
		return n.reportTrade(rep, listing)
	case SelectorRefund:
		return esc.Refund(tx.Target, sender)
	case SelectorDispute:
		if len(tx.Args) != 1 {
			return fmt.Errorf("core: dispute expects exactly one reason argument")
		}
		return esc.Dispute(tx.Target, sender, tx.Args[0])
	case SelectorResolve:
		if len(tx.Args) != 1 {
			return fmt.Errorf("core: resolve expects exactly one verdict argument")
		}
		listing, err := esc.Resolve(tx.Target, sender, tx.Args[0])
		if err != nil {
			return err
		}
		if listing.Status == escrow.StatusConfirmed {
			return n.reportTrade(rep, listing)
		}
		return nil
	case SelectorDelete:
		if err := esc.Delete(tx.Target, sender); err != nil {
			return err
		}
		return rep.RevokeReporter(escrow.VaultAddress(tx.Target))
	case SelectorForceClose:
		listing, err := esc.Get(tx.Target)
		if err != nil {
			return err
		}
		if sender != listing.Seller && sender != n.operator {
			return fmt.Errorf("core: force_close restricted to the seller or the operator")
		}
		if err := esc.ForceClose(tx.Target); err != nil {
			return err
		}
		return rep.RevokeReporter(escrow.VaultAddress(tx.Target))
	case SelectorOptIn:
		return rep.InitAccount(sender)
	case SelectorCloseAccount:
		return rep.CloseAccount(sender)
	case SelectorVerify:
		if len(tx.Args) != 1 {
			return fmt.Errorf("core: verify expects exactly one target argument")
		}
		target, err := parseAddressArg(tx.Args[0])
		if err != nil {
			return err
		}
		return rep.VerifyCollege(sender, target)
	case SelectorRecordTrade:
		if len(tx.Args) != 4 {
			return fmt.Errorf("core: record_trade expects seller, buyer, co2 and points arguments")
		}
		seller, err := parseAddressArg(tx.Args[0])
		if err != nil {
			return err
		}
		buyer, err := parseAddressArg(tx.Args[1])
		if err != nil {
			return err
		}
		co2, err := strconv.ParseUint(tx.Args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("core: invalid co2 argument: %w", err)
		}
		points, err := strconv.ParseUint(tx.Args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("core: invalid points argument: %w", err)
		}
		return rep.RecordTrade(sender, seller, buyer, co2, points)
	default:
		return fmt.Errorf("core: unknown selector %q", tx.Selector)
	}
}

// reportTrade is the settlement coordinator: a terminal settlement in the
// seller's favour is reported into the reputation ledger with the escrow
// instance identity as reporter. Parties that never opted in simply earn
// nothing; their absence must not unwind the settlement itself.
func (n *Node) reportTrade(rep *reputation.Engine, listing *escrow.Listing) error {
	reporter := escrow.VaultAddress(listing.ID)
	err := rep.RecordTrade(reporter, listing.Seller, listing.Buyer, listing.CO2SavedGrams, listing.EcoPointsValue)
	if errors.Is(err, reputation.ErrProfileNotFound) {
		return nil
	}
	return err
}

// parseCreateArgs decodes the ordered creation payload:
// [title, price, category, co2SavedGrams, ecoPointsValue, platformFeeAddress].
func parseCreateArgs(args []string) (escrow.CreateParams, error) {
	if len(args) != 6 {
		return escrow.CreateParams{}, fmt.Errorf("core: create_listing expects exactly 6 arguments, got %d", len(args))
	}
	price, ok := new(big.Int).SetString(args[1], 10)
	if !ok {
		return escrow.CreateParams{}, fmt.Errorf("core: invalid price argument %q", args[1])
	}
	co2, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return escrow.CreateParams{}, fmt.Errorf("core: invalid co2 argument: %w", err)
	}
	points, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		return escrow.CreateParams{}, fmt.Errorf("core: invalid points argument: %w", err)
	}
	feeAddr, err := parseAddressArg(args[5])
	if err != nil {
		return escrow.CreateParams{}, err
	}
	return escrow.CreateParams{
		Title:           args[0],
		Price:           price,
		Category:        args[2],
		CO2SavedGrams:   co2,
		EcoPointsValue:  points,
		PlatformFeeAddr: feeAddr,
	}, nil
}

func parseAddressArg(arg string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(arg)
	if err != nil {
		return addr, fmt.Errorf("core: invalid address argument: %w", err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("core: address argument must be 20 bytes")
	}
	copy(addr[:], raw)
	return addr, nil
}

// DeriveListingID computes the instance identifier a create_listing
// transaction will produce, letting callers learn the id without waiting for
// an event.
func DeriveListingID(tx *types.Transaction) ([32]byte, error) {
	nonce, err := creationNonce(tx)
	if err != nil {
		return [32]byte{}, err
	}
	return escrow.ListingID(tx.Sender, nonce), nil
}

// creationNonce derives the instance-identifier nonce from the transaction
// contents; combined with the sender nonce this keeps identifiers unique per
// submission.
func creationNonce(tx *types.Transaction) ([32]byte, error) {
	var nonce [32]byte
	hash, err := tx.Hash()
	if err != nil {
		return nonce, err
	}
	copy(nonce[:], hash)
	return nonce, nil
}

func (n *Node) persistRound() {
	mgr := state.NewManager(n.db)
	_ = mgr.KVPut(roundKey, n.round)
}
