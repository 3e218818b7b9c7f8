package membership

import "sync"

// MessageIdMap tracks, per peer, the last DisconnectId sent to or
// accepted from that peer. Two instances are kept by the Coordinator:
// one for SentMessageMap, one for RecvMessageMap (spec.md §3).
//
// Grounded on the same map+mutex bookkeeping idiom as ViewSet.
type MessageIdMap struct {
	mu  sync.RWMutex
	ids map[string]DisconnectId
}

// NewMessageIdMap returns an empty map.
func NewMessageIdMap() *MessageIdMap {
	return &MessageIdMap{ids: make(map[string]DisconnectId)}
}

// Get returns the stored id for p, if any.
func (m *MessageIdMap) Get(p PeerSpec) (DisconnectId, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[p.Name]
	return id, ok
}

// Set records id as the last id associated with p.
func (m *MessageIdMap) Set(p PeerSpec, id DisconnectId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[p.Name] = id
}

// NextCounter returns the counter to use for a fresh DisconnectId sent
// to p under the local epoch: Sent[p].counter+1, or 1 if there is no
// record yet (spec.md §4.3 step 3).
func (m *MessageIdMap) NextCounter(p PeerSpec) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.ids[p.Name]; ok {
		return id.Counter + 1
	}
	return 1
}

// IsAddableID is the disjunction spec.md §4.2 defines for a
// DisconnectId: no record for peer, or id >= stored, lexicographically.
func (m *MessageIdMap) IsAddableID(id DisconnectId, peer PeerSpec) bool {
	stored, ok := m.Get(peer)
	if !ok {
		return true
	}
	return id.GreaterOrEqual(stored)
}

// IsAddableEpoch is the bare-PeerEpoch variant: compare epochs only.
func (m *MessageIdMap) IsAddableEpoch(epoch PeerEpoch, peer PeerSpec) bool {
	stored, ok := m.Get(peer)
	if !ok {
		return true
	}
	return Epoch(epoch) >= stored.Epoch
}

// IsValidDisconnect is spec.md §4.2's is_valid_disconnect: no record,
// or id strictly greater than the stored id. Ties are duplicates.
func (m *MessageIdMap) IsValidDisconnect(peer PeerSpec, id DisconnectId) bool {
	stored, ok := m.Get(peer)
	if !ok {
		return true
	}
	return stored.Less(id)
}
