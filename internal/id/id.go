package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier for an upload.
func New() string {
	u, err := uuid.NewV7()
	if err == nil {
		return u.String()
	}

	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "upload-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
