package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const runIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const runIDLength = 10

// NewID returns a random UUID for catalog records and lease tokens.
func NewID() string {
	return uuid.New().String()
}

// NewRunID returns a short random identifier correlating the log lines of one
// invocation, e.g. "run-k3x9q0a1zz".
func NewRunID(prefix string) string {
	b := make([]byte, runIDLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = runIDAlphabet[b[i]%byte(len(runIDAlphabet))]
	}
	return prefix + string(b)
}
