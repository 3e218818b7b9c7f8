package membership

import (
	"sync"

	perrors "github.com/peerview/hyparview/pkg/errors"
)

// MemoryNetwork is a shared in-process switchboard that MemoryConnections
// instances dial into, letting tests build multi-node HyParView clusters
// without opening real sockets. Grounded on mikepb-go-swim's in-memory
// transport used by its own convergence tests.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MemoryConnections
}

// NewMemoryNetwork returns an empty switchboard.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryConnections)}
}

func (n *MemoryNetwork) register(c *MemoryConnections) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[c.self.Name] = c
}

func (n *MemoryNetwork) lookup(name string) (*MemoryConnections, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.nodes[name]
	return c, ok
}

// MemoryConnections implements PeerConnections entirely in memory: a
// "connection" is just the presence of both ends' names in each
// other's live-peer set, and Dispatch hands the frame straight to the
// remote node's OnFrame callback. Grounded on the same PeerConnections
// contract TCPConnections implements (spec.md §4.6); this exists only
// so tests can drive several Coordinators against each other
// deterministically and without sockets.
type MemoryConnections struct {
	mu sync.Mutex

	self    PeerSpec
	network *MemoryNetwork

	live   map[string]bool
	nextID uint64

	OnFrame func(from PeerSpec, f Frame)
	OnExit  DriverExitFunc
}

// NewMemoryConnections registers self on network and returns its
// PeerConnections handle.
func NewMemoryConnections(network *MemoryNetwork, self PeerSpec) *MemoryConnections {
	c := &MemoryConnections{
		self:    self,
		network: network,
		live:    make(map[string]bool),
	}
	network.register(c)
	return c
}

// Wire installs the callbacks the Coordinator uses to receive inbound
// frames and driver exits.
func (c *MemoryConnections) Wire(onFrame func(PeerSpec, Frame), onExit DriverExitFunc) {
	c.OnFrame = onFrame
	c.OnExit = onExit
}

// MaybeConnect idempotently marks peer live on both ends, mirroring
// TCPConnections' silent-failure-on-dial-error behavior when peer is
// unknown to the network.
func (c *MemoryConnections) MaybeConnect(peer PeerSpec) error {
	remote, ok := c.network.lookup(peer.Name)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.live[peer.Name] = true
	c.mu.Unlock()

	remote.mu.Lock()
	remote.live[c.self.Name] = true
	remote.mu.Unlock()
	return nil
}

// Dispatch delivers frame directly to peer's OnFrame, if connected.
func (c *MemoryConnections) Dispatch(peer PeerSpec, frame Frame) error {
	c.mu.Lock()
	connected := c.live[peer.Name]
	c.mu.Unlock()
	if !connected {
		return perrors.ErrNotYetConnected
	}

	remote, ok := c.network.lookup(peer.Name)
	if !ok {
		return perrors.ErrDisconnected
	}
	if remote.OnFrame != nil {
		remote.OnFrame(c.self, frame)
	}
	return nil
}

// DispatchHandle returns a synthetic handle if name is currently live.
func (c *MemoryConnections) DispatchHandle(name string) (ConnHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live[name] {
		return 0, perrors.ErrNotYetConnected
	}
	c.nextID++
	return ConnHandle(c.nextID), nil
}

// IsConnected reports whether peer is currently marked live.
func (c *MemoryConnections) IsConnected(peer PeerSpec) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[peer.Name]
}

// Prune is a no-op for MemoryConnections: liveness is tracked by name,
// not by handle, since there is no real connection object to drop.
func (c *MemoryConnections) Prune(handle ConnHandle) (PeerSpec, int, error) {
	return PeerSpec{}, 0, perrors.ErrUnknownConnection
}

// Processes always reports zero handles; MemoryConnections has no
// handle-level bookkeeping to expose.
func (c *MemoryConnections) Processes(peer PeerSpec) []ConnHandle {
	return nil
}

// Foreach is a no-op; nothing in the test harness needs to enumerate
// MemoryConnections' live set today.
func (c *MemoryConnections) Foreach(fn func(PeerSpec, ConnHandle)) {}

// Disconnect marks peer no longer live on both ends and, if a
// DriverExitFunc is installed, reports the exit the way TCPConnections
// would when the underlying socket closes.
func (c *MemoryConnections) Disconnect(peer PeerSpec) error {
	c.mu.Lock()
	wasLive := c.live[peer.Name]
	delete(c.live, peer.Name)
	c.mu.Unlock()

	if remote, ok := c.network.lookup(peer.Name); ok {
		remote.mu.Lock()
		delete(remote.live, c.self.Name)
		remote.mu.Unlock()
	}

	if wasLive && c.OnExit != nil {
		c.OnExit(0, peer, 0)
	}
	return nil
}
