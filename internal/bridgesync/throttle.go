package bridgesync

import (
	"context"
	"sync"
	"time"
)

// MemoryThrottle is the in-process analytics throttle. Entries are never pruned.
type MemoryThrottle struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{last: make(map[string]time.Time)}
}

// Mark reports whether accountID was stamped within window and stamps it if not.
func (t *MemoryThrottle) Mark(_ context.Context, accountID string, now time.Time, window time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[accountID]; ok && now.Sub(last) < window {
		return true, nil
	}
	t.last[accountID] = now
	return false, nil
}
