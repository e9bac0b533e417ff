package requestqueue_test

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"
	"time"
)

// testDeriveRequestID mirrors the package's unexported id-derivation
// algorithm (spec.md §4.3) so external tests can pre-compute an id without
// first inserting a row.
func testDeriveRequestID(uniqueKey string) string {
	sum := sha256.Sum256([]byte(uniqueKey))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	encoded = strings.NewReplacer("+", "", "/", "", "=", "").Replace(encoded)
	if len(encoded) > 15 {
		encoded = encoded[:15]
	}
	return encoded
}

// fakeClock lets lock-expiry tests (spec.md §8 S4-S6) advance time
// instantly instead of sleeping real wall-clock seconds.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}
