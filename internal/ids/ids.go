// Package ids issues the identifiers shared by cases, assignments, users and
// audit entries. ULIDs sort by creation time, which keeps chronological
// listings cheap without a secondary index.
package ids

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

var gen = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.Reader, 0)}

// New returns a ULID for the current time. Generation is serialized so ids
// issued within the same millisecond still sort in issue order.
func New() string {
	gen.Lock()
	defer gen.Unlock()
	return ulid.MustNew(ulid.Now(), gen.entropy).String()
}
