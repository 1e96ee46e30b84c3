package message

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// UUID is a message identity. Fresh identities are time ordered (version 7),
// so ids sort by creation time.
type UUID struct {
	uuid.UUID
}

// NewUUID returns a fresh, globally unique identity. It panics if the system
// random source fails.
func NewUUID() UUID {
	return UUID{uuid.Must(uuid.NewV7())}
}

// ParseUUID parses the canonical textual form.
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID{id}, nil
}

// UUIDFromParts rebuilds an identity from its two 64-bit halves.
func UUIDFromParts(msb, lsb uint64) UUID {
	var id UUID
	binary.BigEndian.PutUint64(id.UUID[0:8], msb)
	binary.BigEndian.PutUint64(id.UUID[8:16], lsb)
	return id
}

// Parts splits the identity into its most and least significant halves.
func (u UUID) Parts() (msb, lsb uint64) {
	return binary.BigEndian.Uint64(u.UUID[0:8]), binary.BigEndian.Uint64(u.UUID[8:16])
}

// IsZero reports whether the identity is unset.
func (u UUID) IsZero() bool {
	return u.UUID == uuid.Nil
}
