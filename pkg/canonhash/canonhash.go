// Package canonhash computes and verifies SHA-256 digests over canonical
// transcript text. The digest is the tamper-evidence seal: any divergence
// between stored text and stored digest means the artifact was altered after
// construction.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrMissingData reports a verification attempt against a transcript that
// lacks either its canonical text or its stored digest.
var ErrMissingData = errors.New("canonhash: missing canonical text or digest")

// MismatchError carries both digests so callers can surface exactly what was
// stored versus what the text actually hashes to.
type MismatchError struct {
	Stored   string
	Computed string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("canonhash: digest mismatch: stored=%s computed=%s", e.Stored, e.Computed)
}

// HashString returns the lowercase 64-character SHA-256 hex digest of the
// UTF-8 bytes of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the lowercase SHA-256 hex digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of canonicalText and compares it to stored.
// Returns ErrMissingData when either input is empty and *MismatchError when
// the digests differ.
func Verify(canonicalText, stored string) error {
	if canonicalText == "" || stored == "" {
		return ErrMissingData
	}
	computed := HashString(canonicalText)
	if computed != stored {
		return &MismatchError{Stored: stored, Computed: computed}
	}
	return nil
}
