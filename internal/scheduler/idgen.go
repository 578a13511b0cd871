package scheduler

import (
	"sync"
	"time"
)

// idGenerator produces monotonically increasing, time-sortable 64-bit ids
// (snowflake-style: 41 bits of milliseconds since a custom epoch, 22 bits
// of sequence), satisfying spec.md §3's "execution_id (monotonic 64-bit,
// time-sortable)" requirement. This has no direct teacher equivalent — the
// teacher keys everything by google/uuid — so it is a new, small component;
// uuid.UUID is still used elsewhere (worker ids, lease tokens) where
// ordering doesn't matter.
type idGenerator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence int64
}

const customEpochMs = 1700000000000 // 2023-11-14, arbitrary fixed epoch

func newIDGenerator() *idGenerator { return &idGenerator{} }

func (g *idGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UnixMilli() - customEpochMs
	if now == g.lastMs {
		g.sequence++
	} else {
		g.sequence = 0
		g.lastMs = now
	}
	return (now << 22) | (g.sequence & 0x3FFFFF)
}
