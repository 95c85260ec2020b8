package localstore

import (
	cryptorand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(cryptorand.Reader, 0)
)

// NewMessageID returns a message id that sorts by creation time and never
// repeats within the process: a ULID followed by the owner id.
func NewMessageID(owner ID, now time.Time) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	return id.String() + "-" + string(owner)
}
