package escrow

import nativecommon "campusbazaar/native/common"

// Operation names recognised by the transition table. They match the wire
// selectors where one exists; resolve is split by verdict so every legal edge
// of the graph appears explicitly.
const (
	OpFund          = "fund_escrow"
	OpConfirm       = "confirm"
	OpRefund        = "refund"
	OpDispute       = "dispute"
	OpResolveBuyer  = "resolve:buyer"
	OpResolveSeller = "resolve:seller"
	OpDelete        = "delete"
	OpForceClose    = "force_close"
)

// Verdicts accepted by Resolve.
const (
	VerdictBuyer  = "buyer"
	VerdictSeller = "seller"
)

// statusRemoved is the sentinel successor for operations that tear the
// instance down instead of leaving it in a stored state.
const statusRemoved = ListingStatus(0xFF)

// transitions is the full, auditable transition graph of a listing escrow.
// Confirmed and Refunded are terminal: no operation leads out of them.
var transitions = nativecommon.TransitionTable[ListingStatus]{
	StatusOpen: {
		OpFund:   StatusFunded,
		OpDelete: statusRemoved,
	},
	StatusFunded: {
		OpConfirm:    StatusConfirmed,
		OpRefund:     StatusRefunded,
		OpDispute:    StatusDisputed,
		OpForceClose: statusRemoved,
	},
	StatusDisputed: {
		OpResolveBuyer:  StatusRefunded,
		OpResolveSeller: StatusConfirmed,
	},
}
