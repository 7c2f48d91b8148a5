package reputation

import (
	"errors"
	"fmt"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	profilePrefix  = "reputation/profile/"
	reporterPrefix = "reputation/reporter/"
	totalsKey      = []byte("reputation/totals")
)

func profileKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", profilePrefix, addr))
}

func reporterKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", reporterPrefix, addr))
}

var (
	// ErrProfileNotFound marks operations against accounts that never
	// opted in (or already opted out).
	ErrProfileNotFound = errors.New("reputation: profile not found")
	// ErrAlreadyVerified is returned when a second college verification is
	// attempted for the same account.
	ErrAlreadyVerified = errors.New("reputation: account already verified")
	// ErrReporterNotAllowed marks trade reports from identities outside
	// the registered escrow-instance allow-list.
	ErrReporterNotAllowed = errors.New("reputation: reporter not in allow-list")
	// ErrNotOperator marks verification calls from anyone but the
	// configured operator.
	ErrNotOperator = errors.New("reputation: caller is not the operator")
)

// Ledger persists reputation profiles, platform totals and the reporter
// allow-list through the state manager's KV facilities.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

// ProfileGet loads the profile for addr. ok is false when the account never
// opted in.
func (l *Ledger) ProfileGet(addr [20]byte) (*Profile, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errors.New("reputation: storage unavailable")
	}
	var stored Profile
	ok, err := l.store.KVGet(profileKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &stored, true, nil
}

// ProfilePut stores the profile for addr, rejecting drifted scores.
func (l *Ledger) ProfilePut(addr [20]byte, p *Profile) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	if p == nil {
		return errors.New("reputation: profile required")
	}
	if p.ReputationScore != ComputeScore(p.TradesCompleted, p.EcoPoints) {
		return errors.New("reputation: score does not match counters")
	}
	return l.store.KVPut(profileKey(addr), p)
}

// ProfileRemove discards the profile outright. Per the platform rules there
// is no archival of per-account history on opt-out.
func (l *Ledger) ProfileRemove(addr [20]byte) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return l.store.KVDelete(profileKey(addr))
}

// TotalsGet loads the platform totals, returning zeroes before first use.
func (l *Ledger) TotalsGet() (*Totals, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("reputation: storage unavailable")
	}
	var stored Totals
	ok, err := l.store.KVGet(totalsKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Totals{}, nil
	}
	return &stored, nil
}

// TotalsPut stores the platform totals.
func (l *Ledger) TotalsPut(t *Totals) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	if t == nil {
		return errors.New("reputation: totals required")
	}
	return l.store.KVPut(totalsKey, t)
}

// ReporterRegister adds an escrow-instance identity to the trade-report
// allow-list.
func (l *Ledger) ReporterRegister(addr [20]byte) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return l.store.KVPut(reporterKey(addr), true)
}

// ReporterRevoke removes an identity from the allow-list.
func (l *Ledger) ReporterRevoke(addr [20]byte) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return l.store.KVDelete(reporterKey(addr))
}

// ReporterAllowed reports whether addr may record trades.
func (l *Ledger) ReporterAllowed(addr [20]byte) (bool, error) {
	if l == nil || l.store == nil {
		return false, errors.New("reputation: storage unavailable")
	}
	var allowed bool
	ok, err := l.store.KVGet(reporterKey(addr), &allowed)
	if err != nil {
		return false, err
	}
	return ok && allowed, nil
}
