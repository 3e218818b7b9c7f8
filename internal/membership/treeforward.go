package membership

import (
	"context"
	"sync"
	"time"
)

// BroadcastTree is the out-of-scope collaborator (spec.md §1) that
// supplies this node's eager-peer broadcast-tree out-links. The
// TreeForwarder only ever calls OutLinks; spec.md §4.5's tree_refresh
// timer caches the result.
type BroadcastTree interface {
	OutLinks(ctx context.Context, self PeerSpec) ([]PeerSpec, error)
}

// staticBroadcastTree is the default BroadcastTree: it has no real
// tree topology to query and reports the fixed link list it was built
// with, minus self. NewTreeForwarder's default (a nil tree) builds one
// with no links, so it reports no out-links. Grounded
// on the teacher's randomGossipNodes sampling shape (a function from
// "all known peers" to "a bounded out-link set"), simplified to the
// trivial case since tree construction itself is out of scope.
type staticBroadcastTree struct {
	links []PeerSpec
}

func (s *staticBroadcastTree) OutLinks(ctx context.Context, self PeerSpec) ([]PeerSpec, error) {
	out := make([]PeerSpec, 0, len(s.links))
	for _, p := range s.links {
		if p.Name == self.Name {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SetStaticOutLinks lets tests and simple deployments configure fixed
// broadcast-tree out-links without standing up a real tree builder.
func SetStaticOutLinks(links []PeerSpec) BroadcastTree {
	return &staticBroadcastTree{links: links}
}

// TreeForwarder implements spec.md §4.8: when a direct dispatch fails
// and broadcast+transitive relaying are enabled, it fans RELAY_MESSAGE
// out to the cached broadcast-tree out-links.
type TreeForwarder struct {
	self      PeerSpec
	tree      BroadcastTree
	transport PeerConnections
	relayTTL  int

	outLinksTimeout time.Duration

	cachedMu sync.RWMutex
	cached   []PeerSpec
}

// NewTreeForwarder wires a BroadcastTree and PeerConnections into a
// TreeForwarder. outLinksTimeout defaults to 1s per spec.md §5 if zero.
func NewTreeForwarder(self PeerSpec, tree BroadcastTree, transport PeerConnections, relayTTL int, outLinksTimeout time.Duration) *TreeForwarder {
	if outLinksTimeout <= 0 {
		outLinksTimeout = 1 * time.Second
	}
	if tree == nil {
		tree = SetStaticOutLinks(nil)
	}
	return &TreeForwarder{
		self:            self,
		tree:            tree,
		transport:       transport,
		relayTTL:        relayTTL,
		outLinksTimeout: outLinksTimeout,
	}
}

// RefreshOutLinks queries the broadcast tree for this node's eager
// out-links and caches the result, per spec.md §4.5's tree_refresh
// timer. On timeout it treats the result as "no out-links" and
// continues, per spec.md §5.
func (f *TreeForwarder) RefreshOutLinks(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, f.outLinksTimeout)
	defer cancel()

	links, err := f.tree.OutLinks(ctx, f.self)
	if err != nil {
		links = nil
	}

	f.cachedMu.Lock()
	f.cached = links
	f.cachedMu.Unlock()
}

// CachedOutLinks returns the most recently refreshed out-link set.
func (f *TreeForwarder) CachedOutLinks() []PeerSpec {
	f.cachedMu.RLock()
	defer f.cachedMu.RUnlock()
	out := make([]PeerSpec, len(f.cached))
	copy(out, f.cached)
	return out
}

// Forward fans RELAY_MESSAGE(target, innerMsg, ttl) out to every
// cached out-link excluding self, per spec.md §4.8. Dispatch failures
// to individual out-links are ignored: relaying is best-effort.
func (f *TreeForwarder) Forward(target PeerSpec, innerMsg []byte, ttl int) {
	if ttl <= 0 {
		return
	}
	frame := Frame{
		Kind:       TagRelayMessage,
		TargetNode: target,
		InnerMsg:   innerMsg,
		TTL:        ttl,
	}
	for _, link := range f.CachedOutLinks() {
		if link.Name == f.self.Name {
			continue
		}
		_ = f.transport.Dispatch(link, frame)
	}
}
