package membership

import (
	"fmt"
	"net"
	"sync"
	"time"

	perrors "github.com/peerview/hyparview/pkg/errors"
)

// ConnHandle identifies one live connection driver. It is the Go
// analogue of the process-registered connection pid the spec
// describes (spec.md §9 "Process-registered singletons: replace with
// an explicit handle").
type ConnHandle uint64

// PeerConnections is the transport adapter the Coordinator consumes,
// per spec.md §4.6. The protocol and Coordinator never touch a raw
// net.Conn; only the operations below.
type PeerConnections interface {
	// MaybeConnect is an idempotent connect attempt.
	MaybeConnect(peer PeerSpec) error
	// Dispatch is the fast path: send frame to peer using a cached
	// connection, or return an error if none exists.
	Dispatch(peer PeerSpec, frame Frame) error
	// DispatchHandle resolves the current connection handle for name.
	DispatchHandle(name string) (ConnHandle, error)
	// IsConnected reports whether peer currently has a live connection.
	IsConnected(peer PeerSpec) bool
	// Prune removes and returns the peer a now-dead handle represented.
	Prune(handle ConnHandle) (PeerSpec, int, error)
	// Processes lists the live handles representing peer.
	Processes(peer PeerSpec) []ConnHandle
	// Foreach enumerates every live connection, for shutdown.
	Foreach(fn func(PeerSpec, ConnHandle))
	// Disconnect closes every live connection to peer, if any.
	Disconnect(peer PeerSpec) error
}

// DriverExitFunc is posted into the Coordinator's event queue when a
// connection driver exits asynchronously (spec.md §4.6/§9 "Transport
// exit as message"). The driver has already pruned itself by the time
// this is called; peer and remaining are Prune's return values.
type DriverExitFunc func(handle ConnHandle, peer PeerSpec, remaining int)

// TCPConnections is the default PeerConnections implementation: one
// persistent length-prefixed TCP connection per peer, each owned by a
// dedicated driver goroutine that reads frames off the wire and hands
// them to OnFrame. Grounded on the teacher's gossip.go
// acceptLoop/handleConnection/pingNode dial-and-frame loop, generalized
// from request/response ping-pong to a persistent connection so frames
// to a single peer stay ordered (spec.md §5).
type TCPConnections struct {
	mu sync.Mutex

	self     PeerSpec
	listener net.Listener

	byHandle map[ConnHandle]*connEntry
	byPeer   map[string][]ConnHandle
	nextID   uint64

	dialTimeout time.Duration

	// OnFrame is invoked for every frame read off any connection.
	OnFrame func(from PeerSpec, f Frame)
	// OnExit is invoked when a driver's connection closes.
	OnExit DriverExitFunc

	closed bool
	wg     sync.WaitGroup
}

type connEntry struct {
	peer PeerSpec
	conn net.Conn
}

// Wire installs the callbacks the Coordinator uses to receive inbound
// frames and driver exits.
func (t *TCPConnections) Wire(onFrame func(PeerSpec, Frame), onExit DriverExitFunc) {
	t.OnFrame = onFrame
	t.OnExit = onExit
}

// NewTCPConnections creates a registry bound to self's listen address.
// Call Listen to start accepting inbound connections.
func NewTCPConnections(self PeerSpec) *TCPConnections {
	return &TCPConnections{
		self:        self,
		byHandle:    make(map[ConnHandle]*connEntry),
		byPeer:      make(map[string][]ConnHandle),
		dialTimeout: 5 * time.Second,
	}
}

// Listen starts accepting inbound connections on self.Endpoint.
func (t *TCPConnections) Listen() error {
	ln, err := net.Listen("tcp", t.self.Endpoint)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.self.Endpoint, err)
	}
	t.listener = ln

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Close stops accepting connections and closes every live connection.
func (t *TCPConnections) Close() error {
	t.mu.Lock()
	t.closed = true
	if t.listener != nil {
		t.listener.Close()
	}
	conns := make([]net.Conn, 0, len(t.byHandle))
	for _, e := range t.byHandle {
		conns = append(conns, e.conn)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *TCPConnections) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.runDriver(conn, PeerSpec{}, false)
	}
}

// MaybeConnect dials peer if not already connected. Idempotent: a
// second call while a connection is live is a no-op.
func (t *TCPConnections) MaybeConnect(peer PeerSpec) error {
	if t.IsConnected(peer) {
		return nil
	}
	conn, err := net.DialTimeout("tcp", peer.Endpoint, t.dialTimeout)
	if err != nil {
		return nil // spec.md §4.6: on failure, nothing observable changes
	}
	t.wg.Add(1)
	go t.runDriver(conn, peer, true)
	return nil
}

// frameTagHello is a transport-internal handshake frame, never part of
// spec.md §6's wire table: the dialing side of a fresh connection
// writes one carrying its own identity in Peer before anything else,
// since most application frame kinds (JOIN included) don't carry a
// dedicated "who is on the other end of this wire" field of their own
// — Sender, where present, names a forward-join/shuffle relay hop, not
// the dialer. The accepting side reads exactly one of these before
// treating anything else read off the connection as an application
// frame.
const frameTagHello FrameTag = 0

func (t *TCPConnections) runDriver(conn net.Conn, peer PeerSpec, outbound bool) {
	defer t.wg.Done()
	defer conn.Close()

	if outbound {
		hello := Frame{Kind: frameTagHello, Peer: t.self}
		data, err := EncodeFrame(hello)
		if err != nil {
			return
		}
		if err := WriteFrame(conn, data); err != nil {
			return
		}
	} else {
		hello, err := ReadFrame(conn)
		if err != nil {
			return
		}
		f, err := DecodeFrame(hello)
		if err != nil || f.Kind != frameTagHello {
			return
		}
		peer = f.Peer
	}

	handle := t.register(peer, conn)
	defer func() {
		p, remaining, err := t.Prune(handle)
		if err == nil && t.OnExit != nil {
			t.OnExit(handle, p, remaining)
		}
	}()

	for {
		data, err := ReadFrame(conn)
		if err != nil {
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			continue
		}
		t.dispatchInbound(peer, f)
	}
}

func (t *TCPConnections) dispatchInbound(peer PeerSpec, f Frame) {
	if t.OnFrame != nil {
		t.OnFrame(peer, f)
	}
}

func (t *TCPConnections) register(peer PeerSpec, conn net.Conn) ConnHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	h := ConnHandle(t.nextID)
	t.byHandle[h] = &connEntry{peer: peer, conn: conn}
	t.byPeer[peer.Name] = append(t.byPeer[peer.Name], h)
	return h
}

// Dispatch sends frame to peer over its cached connection.
func (t *TCPConnections) Dispatch(peer PeerSpec, frame Frame) error {
	t.mu.Lock()
	handles := t.byPeer[peer.Name]
	if len(handles) == 0 {
		t.mu.Unlock()
		return perrors.ErrNotYetConnected
	}
	entry, ok := t.byHandle[handles[len(handles)-1]]
	t.mu.Unlock()
	if !ok {
		return perrors.ErrDisconnected
	}

	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if err := WriteFrame(entry.conn, data); err != nil {
		return perrors.ErrDisconnected
	}
	return nil
}

// DispatchHandle resolves the live handle for a peer by name.
func (t *TCPConnections) DispatchHandle(name string) (ConnHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handles := t.byPeer[name]
	if len(handles) == 0 {
		return 0, perrors.ErrNotYetConnected
	}
	return handles[len(handles)-1], nil
}

// IsConnected reports whether peer has a live connection.
func (t *TCPConnections) IsConnected(peer PeerSpec) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPeer[peer.Name]) > 0
}

// Prune removes handle and returns the peer and remaining connection
// count it was representing. Returns ErrUnknownConnection if handle
// was never registered.
func (t *TCPConnections) Prune(handle ConnHandle) (PeerSpec, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byHandle[handle]
	if !ok {
		return PeerSpec{}, 0, perrors.ErrUnknownConnection
	}
	delete(t.byHandle, handle)

	handles := t.byPeer[entry.peer.Name]
	for i, h := range handles {
		if h == handle {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(t.byPeer, entry.peer.Name)
	} else {
		t.byPeer[entry.peer.Name] = handles
	}
	return entry.peer, len(handles), nil
}

// Processes lists the live handles representing peer.
func (t *TCPConnections) Processes(peer PeerSpec) []ConnHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnHandle, len(t.byPeer[peer.Name]))
	copy(out, t.byPeer[peer.Name])
	return out
}

// Disconnect closes every live connection to peer. Pruning and the
// OnExit callback happen as a side effect of the closed connection's
// driver goroutine returning, not synchronously here.
func (t *TCPConnections) Disconnect(peer PeerSpec) error {
	t.mu.Lock()
	handles := t.byPeer[peer.Name]
	conns := make([]net.Conn, 0, len(handles))
	for _, h := range handles {
		if e, ok := t.byHandle[h]; ok {
			conns = append(conns, e.conn)
		}
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

// Foreach enumerates every live connection.
func (t *TCPConnections) Foreach(fn func(PeerSpec, ConnHandle)) {
	t.mu.Lock()
	snapshot := make(map[ConnHandle]PeerSpec, len(t.byHandle))
	for h, e := range t.byHandle {
		snapshot[h] = e.peer
	}
	t.mu.Unlock()
	for h, p := range snapshot {
		fn(p, h)
	}
}
