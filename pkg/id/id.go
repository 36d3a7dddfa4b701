// Package id issues run identifiers. Run ids are ULIDs so the journal can
// order runs by id alone.
package id

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(ulid.DefaultEntropy(), 0)
)

// New returns a run id stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a run id stamped with t. Ids issued within the same
// millisecond still sort in issue order.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String()
}

// Time extracts the creation time from a run id.
func Time(runID string) (time.Time, error) {
	u, err := ulid.ParseStrict(runID)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	return ulid.Time(u.Time()).UTC(), nil
}
