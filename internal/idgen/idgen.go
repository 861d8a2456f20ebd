// Package idgen generates submission and request identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ShortLen is the length of the canonical short transaction id.
const ShortLen = 8

// New returns a random (version 4) UUID string. Submission ids are
// generated client-side with this and are authoritative.
func New() string {
	return uuid.NewString()
}

// Short derives the canonical display id: the first ShortLen characters,
// uppercased. Shorter ids are uppercased whole.
func Short(id string) string {
	r := []rune(id)
	if len(r) > ShortLen {
		r = r[:ShortLen]
	}
	return strings.ToUpper(string(r))
}

// WithPrefix generates a random ID with a prefix (e.g. "req_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
