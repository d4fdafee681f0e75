// Package idgen generates the random identifiers handed out by the API,
// such as webhook subscription IDs ("wh_...") and event IDs ("evt_...").
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
