// Package ids generates identifiers for envelopes and request correlation.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID encoded as a 26-character string.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewCorrelationID returns a random token pairing a request with its reply.
func NewCorrelationID() string {
	return uuid.New().String()
}

// Short returns the first eight characters of a fresh UUID, used for
// consumer tags and ephemeral queue suffixes.
func Short() string {
	return uuid.New().String()[:8]
}
