package scu

import (
	"math/big"

	"github.com/google/uuid"
)

// UIDGenerator creates DICOM UIDs.
type UIDGenerator interface {
	NewUID() string
}

// UUIDGenerator derives UIDs under the 2.25 root from random UUIDs
// (PS3.5 Annex B.2).
type UUIDGenerator struct{}

// NewUID returns "2.25." followed by the UUID as an unsigned decimal.
func (UUIDGenerator) NewUID() string {
	return UIDFromUUID(uuid.New())
}

// UIDFromUUID converts a UUID to its 2.25 UID form.
func UIDFromUUID(u uuid.UUID) string {
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}
