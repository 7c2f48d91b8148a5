package state

import (
	"fmt"

	"campusbazaar/native/escrow"
)

var listingPrefix = "escrow/listing/"

func listingKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", listingPrefix, id))
}

// ListingPut validates and stores the listing escrow instance.
func (m *Manager) ListingPut(l *escrow.Listing) error {
	sanitized, err := escrow.SanitizeListing(l)
	if err != nil {
		return err
	}
	return m.KVPut(listingKey(sanitized.ID), sanitized)
}

// ListingGet loads the listing with the given instance identifier.
func (m *Manager) ListingGet(id [32]byte) (*escrow.Listing, bool, error) {
	var stored escrow.Listing
	ok, err := m.KVGet(listingKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

// ListingRemove deletes the listing record.
func (m *Manager) ListingRemove(id [32]byte) error {
	return m.KVDelete(listingKey(id))
}
