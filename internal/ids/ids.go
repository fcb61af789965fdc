// Package ids generates the identifiers used as storage keys across the
// service. ULIDs sort lexicographically by creation time, which keeps audit
// scans and list endpoints ordered without an extra column.
package ids

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

// New returns a fresh ULID. The monotonic entropy source guarantees strict
// ordering for ids generated within the same millisecond.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
