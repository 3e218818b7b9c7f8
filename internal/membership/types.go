// Package membership implements the HyParView peer-service manager: a
// probabilistic partial-mesh membership protocol maintaining a bounded
// active view and a bounded passive view per node.
package membership

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PeerSpec identifies a peer. Equality is by Name; Endpoint is whatever
// address information the transport adapter needs to dial the peer.
type PeerSpec struct {
	Name     string
	Endpoint string
}

// Equal reports whether two PeerSpecs name the same peer.
func (p PeerSpec) Equal(other PeerSpec) bool {
	return p.Name == other.Name
}

func (p PeerSpec) String() string {
	if p.Endpoint == "" {
		return p.Name
	}
	return fmt.Sprintf("%s(%s)", p.Name, p.Endpoint)
}

// Tag is a symbolic label for a reserved active-view slot.
type Tag string

// Epoch is a non-negative, persisted, monotonically increasing restart
// counter identifying a lifetime of the local node.
type Epoch uint64

// DisconnectId is an (epoch, counter) pair, totally ordered
// lexicographically, used to discard stale JOIN/DISCONNECT/NEIGHBOR
// frames that arrive out of order after a reconnect.
type DisconnectId struct {
	Epoch   Epoch
	Counter uint64
}

// Less reports whether d sorts strictly before other.
func (d DisconnectId) Less(other DisconnectId) bool {
	if d.Epoch != other.Epoch {
		return d.Epoch < other.Epoch
	}
	return d.Counter < other.Counter
}

// LessOrEqual reports whether d sorts at or before other.
func (d DisconnectId) LessOrEqual(other DisconnectId) bool {
	return d.Less(other) || d == other
}

// GreaterOrEqual reports whether d sorts at or after other.
func (d DisconnectId) GreaterOrEqual(other DisconnectId) bool {
	return other.LessOrEqual(d)
}

func (d DisconnectId) String() string {
	return fmt.Sprintf("(%d,%d)", d.Epoch, d.Counter)
}

// PeerEpoch is a bare epoch value, as carried by a JOIN/FORWARD_JOIN
// frame before the peer has sent us any disconnect id.
type PeerEpoch Epoch

// GenerateName returns a fresh pseudo-random peer name, used when a
// caller does not supply one explicitly. Grounded on the teacher's
// generateNodeID (crypto/rand + hex).
func GenerateName() string {
	b := make([]byte, 10)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
