package membership

import (
	"sync"

	"github.com/google/uuid"
)

// partitionEntry is one (ref, peer) row of spec.md §3's Partitions
// list.
type partitionEntry struct {
	ref  string
	peer PeerSpec
}

// PartitionTable owns the injected-partition bookkeeping of spec.md
// §4.7. Grounded on the teacher's gossip.go broadcastFail fan-out
// pattern, generalized from a single fail-report broadcast to a
// ref-scoped partition table. Opaque refs are generated with
// github.com/google/uuid (from skshohagmiah-gomsg, which uses uuid
// for request identifiers) rather than a hand-rolled random-hex id.
type PartitionTable struct {
	mu      sync.RWMutex
	entries []partitionEntry
}

// NewPartitionTable returns an empty table.
func NewPartitionTable() *PartitionTable {
	return &PartitionTable{}
}

// NewRef generates a fresh opaque partition reference.
func NewRef() string {
	return uuid.NewString()
}

// Add records (ref, peer).
func (t *PartitionTable) Add(ref string, peer PeerSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, partitionEntry{ref: ref, peer: peer})
}

// IsPartitioned reports whether peer is currently partitioned under
// any ref.
func (t *PartitionTable) IsPartitioned(peer PeerSpec) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.peer.Name == peer.Name {
			return true
		}
	}
	return false
}

// Resolve removes every entry with the given ref and reports whether
// anything changed.
func (t *PartitionTable) Resolve(ref string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0:0]
	changed := false
	for _, e := range t.entries {
		if e.ref == ref {
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return changed
}

// Count returns the number of currently partitioned (ref, peer) rows.
func (t *PartitionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
