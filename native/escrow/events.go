package escrow

import (
	"encoding/hex"
	"strconv"

	"campusbazaar/core/types"
)

const (
	EventTypeCreated     = "escrow.created"
	EventTypeFunded      = "escrow.funded"
	EventTypeConfirmed   = "escrow.confirmed"
	EventTypeRefunded    = "escrow.refunded"
	EventTypeDisputed    = "escrow.disputed"
	EventTypeResolved    = "escrow.resolved"
	EventTypeDeleted     = "escrow.deleted"
	EventTypeForceClosed = "escrow.forceClosed"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// listing.
func NewCreatedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeCreated, l, "") }

// NewFundedEvent returns the canonical event payload emitted when the buyer's
// payment is locked into the vault.
func NewFundedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeFunded, l, "") }

// NewConfirmedEvent returns the canonical event payload for a delivery
// confirmation settling funds to the seller.
func NewConfirmedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeConfirmed, l, "") }

// NewRefundedEvent returns the canonical event payload for a timeout refund to
// the buyer.
func NewRefundedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeRefunded, l, "") }

// NewDisputedEvent returns the canonical event payload emitted when the buyer
// raises a dispute.
func NewDisputedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeDisputed, l, "") }

// NewResolvedEvent returns the canonical event payload emitted when the
// dispute is adjudicated. The verdict is recorded so external arbiters can
// audit the outcome.
func NewResolvedEvent(l *Listing, verdict string) *types.Event {
	return newListingEvent(EventTypeResolved, l, verdict)
}

// NewDeletedEvent returns the canonical event payload for delisting an open
// instance.
func NewDeletedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeDeleted, l, "") }

// NewForceClosedEvent returns the canonical event payload for the forced
// teardown of a funded instance.
func NewForceClosedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeForceClosed, l, "")
}

func newListingEvent(eventType string, l *Listing, verdict string) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(l.ID[:])
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	attrs["price"] = cloneBigInt(l.Price).String()
	attrs["category"] = l.Category
	attrs["status"] = l.Status.String()
	attrs["co2SavedGrams"] = strconv.FormatUint(l.CO2SavedGrams, 10)
	attrs["ecoPointsValue"] = strconv.FormatUint(l.EcoPointsValue, 10)
	if l.Buyer != ([20]byte{}) {
		attrs["buyer"] = hex.EncodeToString(l.Buyer[:])
	}
	if l.FundedAtRound > 0 {
		attrs["fundedAtRound"] = strconv.FormatUint(l.FundedAtRound, 10)
	}
	if l.DisputeReason != "" {
		attrs["disputeReason"] = l.DisputeReason
	}
	if verdict != "" {
		attrs["verdict"] = verdict
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
