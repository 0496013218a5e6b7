package security

import (
	"sync"
	"time"

	"openclaw/pkg/proto"
)

// idempotencyTTL bounds how long a cached result stays eligible for replay.
// Long enough to cover a channel reconnect retry, short enough that a
// deliberate re-run of the same logical key later in the day isn't silently
// skipped.
const idempotencyTTL = 10 * time.Minute

type idempotencyEntry struct {
	result    *proto.ActionResult
	expiresAt time.Time
}

// idempotencyCache backs the kernel's opt-in idempotency support: an action
// submitted with params["_idempotency_key"] set replays its first result
// for any later call with the same key, instead of re-running a
// state-mutating action (e.g. git_commit) a second time after a dispatch
// retry.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: make(map[string]idempotencyEntry)}
}

func (c *idempotencyCache) Get(key string) (*proto.ActionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.result, true
}

func (c *idempotencyCache) Put(key string, result *proto.ActionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = idempotencyEntry{result: result, expiresAt: time.Now().Add(idempotencyTTL)}
}
