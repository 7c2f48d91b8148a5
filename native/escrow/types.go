package escrow

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ListingStatus represents the lifecycle states of a listing escrow instance.
type ListingStatus uint8

const (
	StatusOpen ListingStatus = iota
	StatusFunded
	StatusConfirmed
	StatusRefunded
	StatusDisputed
)

const (
	// MinListingPrice is the smallest accepted price, in minor currency
	// units (1 credit = 1_000_000 micro-credits).
	MinListingPrice = 1_000_000
	// MaxTitleBytes bounds the listing title.
	MaxTitleBytes = 64
	// PlatformFeeBps is the platform cut charged on every settled trade.
	PlatformFeeBps = 100
	feeDenominator = 10_000
	// RefundTimeoutRounds is how long after funding the buyer must wait
	// before unilaterally reclaiming the payment.
	RefundTimeoutRounds = 1000
	// DisputeWindowRounds is how long after funding the buyer may raise a
	// dispute.
	DisputeWindowRounds = 500
)

// Listing captures the metadata and runtime status of a single escrow
// instance. One instance exists per listing; it owns the locked payment held
// at its vault address.
type Listing struct {
	ID              [32]byte
	Seller          [20]byte
	Buyer           [20]byte
	Price           *big.Int
	Title           string
	Category        string
	CO2SavedGrams   uint64
	EcoPointsValue  uint64
	PlatformFeeAddr [20]byte
	Status          ListingStatus
	CreatedAtRound  uint64
	FundedAtRound   uint64
	DisputeReason   string
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusFunded, StatusConfirmed, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// String returns the canonical wire name of the status.
func (s ListingStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFunded:
		return "funded"
	case StatusConfirmed:
		return "confirmed"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ListingID derives the deterministic instance identifier from the seller and
// a caller-supplied nonce.
func ListingID(seller [20]byte, nonce [32]byte) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(seller[:], nonce[:]))
	return id
}

// VaultAddress derives the account that holds an instance's locked funds.
func VaultAddress(id [32]byte) [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte("escrow/vault:"), id[:])
	copy(addr[:], digest[12:])
	return addr
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with a non-nil price. The function does not mutate the
// original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("escrow: nil listing")
	}
	clone := l.Clone()
	if len(clone.Title) > MaxTitleBytes {
		return nil, fmt.Errorf("escrow: title exceeds %d bytes", MaxTitleBytes)
	}
	if clone.Price.Cmp(big.NewInt(MinListingPrice)) < 0 {
		return nil, fmt.Errorf("escrow: price below minimum of %d", MinListingPrice)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	hasBuyer := clone.Buyer != ([20]byte{})
	if clone.Status == StatusOpen && hasBuyer {
		return nil, fmt.Errorf("escrow: open listing must not carry a buyer")
	}
	if clone.Status != StatusOpen && !hasBuyer {
		return nil, fmt.Errorf("escrow: status %s requires a buyer", clone.Status)
	}
	if clone.DisputeReason != "" && clone.Status != StatusDisputed {
		return nil, fmt.Errorf("escrow: dispute reason only valid while disputed")
	}
	return clone, nil
}

// PlatformFee computes the platform cut for the supplied price using floor
// division. The remainder always goes to the seller.
func PlatformFee(price *big.Int) *big.Int {
	if price == nil {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(price, big.NewInt(PlatformFeeBps))
	return fee.Div(fee, big.NewInt(feeDenominator))
}

// SellerPayout is the price minus the platform fee.
func SellerPayout(price *big.Int) *big.Int {
	if price == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(price, PlatformFee(price))
}
