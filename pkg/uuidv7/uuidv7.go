// Package uuidv7 generates time-ordered UUIDs (RFC 9562 version 7). Audit
// identifiers use it so lexicographic order follows creation order.
package uuidv7

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh UUIDv7: 48 bits of Unix milliseconds followed by
// random bits, with the version and variant fields set.
func New() (uuid.UUID, error) {
	var u uuid.UUID
	if _, err := io.ReadFull(rand.Reader, u[:]); err != nil {
		return uuid.Nil, err
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixMilli()))
	copy(u[:6], ts[2:])

	u[6] = (u[6] & 0x0f) | 0x70 // version 7
	u[8] = (u[8] & 0x3f) | 0x80 // variant RFC 4122

	return u, nil
}

// NewString is New rendered in the canonical 36-character form.
func NewString() (string, error) {
	u, err := New()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
