package reputation

import nativecommon "campusbazaar/native/common"

const (
	// SellerBonusPoints rewards supply: sellers earn this on top of the
	// listing's eco-points value for every completed trade.
	SellerBonusPoints = 20
	// VerificationBonusPoints is the one-time grant for verifying a
	// college email.
	VerificationBonusPoints = 100
	// MaxReputationScore caps the composite score.
	MaxReputationScore = 100
)

// Profile holds the per-account trust and sustainability counters. One profile
// exists per opted-in participant.
type Profile struct {
	EcoPoints       uint64
	TradesCompleted uint64
	TradesAsSeller  uint64
	TradesAsBuyer   uint64
	CO2SavedGrams   uint64
	ReputationScore uint64
	LastTradeRound  uint64
	CollegeVerified bool
}

// Clone returns a copy callers can mutate freely.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return &Profile{}
	}
	clone := *p
	return &clone
}

// Recompute reapplies the scoring formula to the profile's own counters. It
// must be called after every mutation so the stored score never drifts from
// the counters it is derived from.
func (p *Profile) Recompute() {
	p.ReputationScore = ComputeScore(p.TradesCompleted, p.EcoPoints)
}

// ComputeScore derives the composite reputation score:
// min(100, tradesCompleted*5 + ecoPoints/10) with truncating division.
func ComputeScore(tradesCompleted, ecoPoints uint64) uint64 {
	raw := tradesCompleted*5 + ecoPoints/10
	if raw > MaxReputationScore {
		return MaxReputationScore
	}
	return raw
}

// Totals aggregates the platform-wide counters. TotalUsersOptedIn is the only
// field that can decrease (on opt-out).
type Totals struct {
	TotalCO2SavedGrams   uint64
	TotalTradesCompleted uint64
	TotalUsersOptedIn    uint64
}

// Clone returns a copy callers can mutate freely.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return &Totals{}
	}
	clone := *t
	return &clone
}

// opVerify is the single edge of the verification state machine: a profile
// moves from unverified to verified at most once.
const opVerify = "verify"

var verification = nativecommon.TransitionTable[bool]{
	false: {opVerify: true},
}
