package reputation

import (
	"encoding/hex"
	"strconv"

	"campusbazaar/core/types"
)

const (
	EventTypeOptedIn         = "reputation.optedIn"
	EventTypeTradeRecorded   = "reputation.tradeRecorded"
	EventTypeCollegeVerified = "reputation.collegeVerified"
	EventTypeAccountClosed   = "reputation.accountClosed"
)

// NewOptedInEvent returns the canonical payload for an account opt-in.
func NewOptedInEvent(addr [20]byte) *types.Event {
	return &types.Event{Type: EventTypeOptedIn, Attributes: map[string]string{
		"account": hex.EncodeToString(addr[:]),
	}}
}

// NewTradeRecordedEvent returns the canonical payload for a recorded trade.
func NewTradeRecordedEvent(reporter, seller, buyer [20]byte, co2Grams, ecoPoints uint64) *types.Event {
	return &types.Event{Type: EventTypeTradeRecorded, Attributes: map[string]string{
		"reporter":      hex.EncodeToString(reporter[:]),
		"seller":        hex.EncodeToString(seller[:]),
		"buyer":         hex.EncodeToString(buyer[:]),
		"co2SavedGrams": strconv.FormatUint(co2Grams, 10),
		"ecoPoints":     strconv.FormatUint(ecoPoints, 10),
	}}
}

// NewCollegeVerifiedEvent returns the canonical payload for a college email
// verification.
func NewCollegeVerifiedEvent(addr [20]byte) *types.Event {
	return &types.Event{Type: EventTypeCollegeVerified, Attributes: map[string]string{
		"account": hex.EncodeToString(addr[:]),
	}}
}

// NewAccountClosedEvent returns the canonical payload for an opt-out.
func NewAccountClosedEvent(addr [20]byte) *types.Event {
	return &types.Event{Type: EventTypeAccountClosed, Attributes: map[string]string{
		"account": hex.EncodeToString(addr[:]),
	}}
}
