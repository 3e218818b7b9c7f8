package membership

import (
	"context"
	"fmt"
	"sync"

	"github.com/peerview/hyparview/internal/metrics"
	perrors "github.com/peerview/hyparview/pkg/errors"
)

// kActiveSample and kPassiveSample are the k_active/k_passive sample
// sizes spec.md §4.2/§4.5 use to compose a shuffle/neighbor exchange.
const (
	kActiveSample  = 3
	kPassiveSample = 4
)

// DeliverFunc receives an inbound forward_message once it reaches its
// target node, standing in for the out-of-scope server-ref dispatch
// spec.md §1 leaves to the embedding application.
type DeliverFunc func(targetName, serverRef string, msg []byte, opts map[string]string)

// RelayDeliverFunc receives a RELAY_MESSAGE that terminated at this
// node transitively, per spec.md §4.8.
type RelayDeliverFunc func(target PeerSpec, msg []byte, transitive bool, outLinks []PeerSpec)

// MemberInfo is the supplemented detail view of one active-view peer
// (SPEC_FULL.md §10).
type MemberInfo struct {
	Peer      PeerSpec
	Tag       Tag
	Connected bool
}

// Coordinator is the single-writer serialized entity spec.md §4.1/§5
// describes: every external API call, inbound frame, and timer event
// is processed one at a time on its own goroutine. Grounded on the
// teacher's internal/cluster/state/manager.go saveLoop channel-select
// pattern, generalized from a periodic-save loop into a general
// command queue, with the inbox-channel dispatch shape of
// mikepb-go-swim's mailbox.go.
type Coordinator struct {
	self   PeerSpec
	cfg    Config
	logger Logger

	views      *ViewSet
	sent       *MessageIdMap
	recv       *MessageIdMap
	partitions *PartitionTable
	epochStore *EpochStore
	epoch      Epoch

	transport PeerConnections
	tree      *TreeForwarder
	timers    *TimerScheduler

	// selfInitiatedDisconnects marks peers the Coordinator itself just
	// told the transport to tear down (eviction, NEIGHBOR_REJECTED,
	// shutdown). The view mutation for these is already applied
	// synchronously before Disconnect is called, so the driver-exit
	// notification that eventually follows must not re-apply it a
	// second time — spec.md §3's lifecycle moves an evicted peer from
	// Active to Passive and leaves it there; only a genuine transport
	// failure also drops it from Passive. Owned exclusively by the
	// Coordinator goroutine, like views/sent/recv.
	selfInitiatedDisconnects map[string]bool

	// OnDeliver and OnRelayDeliver are the only two points where the
	// embedding application receives data; both default to a
	// debug-logged no-op.
	OnDeliver      DeliverFunc
	OnRelayDeliver RelayDeliverFunc

	cmds chan func()
	wg   sync.WaitGroup
}

// NewCoordinator builds and starts a Coordinator for self. It loads
// and bumps the persisted epoch, wires the transport's inbound-frame
// and driver-exit callbacks back into the command queue, and starts
// the timer scheduler. The returned Coordinator is immediately usable;
// callers still need to start transport.Listen() themselves.
func NewCoordinator(self PeerSpec, cfg Config, transport PeerConnections, tree *TreeForwarder, epochStore *EpochStore, logger Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nopLogger{}
	}

	epoch, err := epochStore.Bump()
	if err != nil {
		logger.Warnf("epoch store bump failed, continuing at epoch %d: %v", epoch, err)
	}

	c := &Coordinator{
		self:       self,
		cfg:        cfg,
		logger:     logger,
		views:      NewViewSet(self, cfg.MaxActiveSize, cfg.MaxPassiveSize, cfg.Reservations),
		sent:       NewMessageIdMap(),
		recv:       NewMessageIdMap(),
		partitions: NewPartitionTable(),
		epochStore: epochStore,
		epoch:      epoch,
		transport:  transport,
		tree:       tree,
		timers:     NewTimerScheduler(cfg),
		cmds:       make(chan func(), 64),

		selfInitiatedDisconnects: make(map[string]bool),
	}

	if w, ok := transport.(interface {
		Wire(onFrame func(PeerSpec, Frame), onExit DriverExitFunc)
	}); ok {
		w.Wire(c.postInbound, c.postDriverExit)
	}

	c.wg.Add(1)
	go c.run()

	c.timers.Start()
	c.wg.Add(1)
	go c.runTimers()

	return c, nil
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	for f := range c.cmds {
		f()
	}
}

func (c *Coordinator) runTimers() {
	defer c.wg.Done()
	for ev := range c.timers.Events() {
		kind := ev.Kind
		c.post(func() { c.dispatchTimer(kind) })
	}
}

// exec schedules f on the Coordinator goroutine and blocks until it
// has run.
func (c *Coordinator) exec(f func()) {
	done := make(chan struct{})
	c.cmds <- func() {
		f()
		close(done)
	}
	<-done
}

// post schedules f without waiting for it to run, for callers that
// are not the API caller's own goroutine (inbound frames, timers,
// driver exits).
func (c *Coordinator) post(f func()) {
	c.cmds <- f
}

func (c *Coordinator) postInbound(from PeerSpec, f Frame) {
	c.post(func() { c.dispatchFrame(from, f) })
}

func (c *Coordinator) postDriverExit(handle ConnHandle, peer PeerSpec, remaining int) {
	c.post(func() { c.handleDriverExit(peer, remaining) })
}

func (c *Coordinator) dispatchTimer(kind TimerKind) {
	switch kind {
	case TimerPassiveViewMaintenance:
		c.doShuffle()
	case TimerRandomPromotion:
		c.doRandomPromotion()
	case TimerTreeRefresh:
		c.tree.RefreshOutLinks(context.Background())
	default:
		c.logger.Warnf("unknown timer kind %d", kind)
	}
}

func (c *Coordinator) handleDriverExit(peer PeerSpec, remaining int) {
	if remaining > 0 || peer.Name == "" {
		return
	}
	if c.selfInitiatedDisconnects[peer.Name] {
		delete(c.selfInitiatedDisconnects, peer.Name)
		return
	}
	wasActive := c.views.InActive(peer)
	c.views.RemoveFromActive(peer)
	c.views.RemoveFromPassive(peer)
	if wasActive {
		c.promoteRandomPassive("repair", peer)
	}
}

// disconnectTransport tells the transport to tear down peer's
// connection, first marking the exit as self-initiated so the
// asynchronous driver-exit notification that follows doesn't re-apply
// a view mutation this call's caller already made.
func (c *Coordinator) disconnectTransport(peer PeerSpec) {
	c.selfInitiatedDisconnects[peer.Name] = true
	c.transport.Disconnect(peer)
}

func (c *Coordinator) doShuffle() {
	r, ok := c.views.RandomActiveExcluding(c.self)
	if !ok {
		return
	}
	exchange := c.views.ComposeExchange(kActiveSample, kPassiveSample)
	c.sendFrame(r, Frame{Kind: TagShuffle, Exchange: exchange, TTL: c.cfg.ARWL, Sender: c.self})
	metrics.RecordShuffleRound()
}

func (c *Coordinator) doRandomPromotion() {
	if !c.views.BelowMinimum(c.cfg.MinActiveSize) {
		return
	}
	c.promoteRandomPassive("timer")
}

// promote sends a high-priority NEIGHBOR_REQUEST to target, the only
// way spec.md §4.5 moves a passive peer into the active view outside
// of the normal join/forward_join/shuffle flow.
func (c *Coordinator) promote(target PeerSpec, reason string) {
	c.transport.MaybeConnect(target)
	recvID, _ := c.recv.Get(target)
	exchange := c.views.ComposeExchange(kActiveSample, kPassiveSample)
	c.sendFrame(target, Frame{
		Kind:         TagNeighborRequest,
		Peer:         c.self,
		PeerTag:      c.cfg.Tag,
		Priority:     PriorityHigh,
		DisconnectID: recvID,
		Exchange:     exchange,
	})
	metrics.RecordPromotion(reason)
}

func (c *Coordinator) promoteRandomPassive(reason string, exclude ...PeerSpec) {
	target, ok := c.views.RandomPassiveExcluding(append(exclude, c.self)...)
	if !ok {
		return
	}
	c.promote(target, reason)
}

func (c *Coordinator) sendFrame(to PeerSpec, f Frame) {
	metrics.RecordFrameSent(f.Kind.String())
	if err := c.transport.Dispatch(to, f); err != nil {
		c.logger.Warnf("dispatch %s to %s: %v", f.Kind, to, err)
	}
}

// Join triggers a connection attempt and sends JOIN(self, self_tag,
// self_epoch) asynchronously. Always succeeds at the API level, per
// spec.md §4.1.
func (c *Coordinator) Join(peer PeerSpec) error {
	c.exec(func() {
		c.transport.MaybeConnect(peer)
		c.sendFrame(peer, Frame{Kind: TagJoin, Peer: c.self, PeerTag: c.cfg.Tag, Epoch: PeerEpoch(c.epoch)})
	})
	return nil
}

// Leave is documented as deliberately unimplemented (spec.md §4.1/§7).
func (c *Coordinator) Leave(node PeerSpec) error {
	return perrors.ErrNotImplemented
}

// Reserve adds tag as a reserved active-view slot.
func (c *Coordinator) Reserve(tag Tag) error {
	var err error
	c.exec(func() {
		if !c.views.Reserve(tag) {
			err = perrors.ErrNoAvailableSlots
		}
	})
	return err
}

// Members returns a snapshot of the active view's peer names.
func (c *Coordinator) Members() []string {
	peers := c.views.ActiveMembers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.Name
	}
	return out
}

// MembersDetail is the supplemented (SPEC_FULL.md §10) richer view of
// the active view: each peer's reservation tag, if any, and whether
// the transport currently reports it connected.
func (c *Coordinator) MembersDetail() []MemberInfo {
	peers := c.views.ActiveMembers()
	out := make([]MemberInfo, len(peers))
	for i, p := range peers {
		tag, _ := c.views.ReservedTagFor(p)
		out[i] = MemberInfo{Peer: p, Tag: tag, Connected: c.transport.IsConnected(p)}
	}
	return out
}

// PassiveMembers is the supplemented (SPEC_FULL.md §10) passive-view
// peer-name snapshot.
func (c *Coordinator) PassiveMembers() []string {
	peers := c.views.PassiveMembers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.Name
	}
	return out
}

// SendMessage is a direct send via transport; the result comes
// straight from Transport, per spec.md §4.1.
func (c *Coordinator) SendMessage(name string, msg []byte) error {
	return c.transport.Dispatch(PeerSpec{Name: name}, Frame{Kind: TagForwardMessage, TargetName: name, InnerMsg: msg})
}

// ForwardMessage implements spec.md §4.1's forward_message: rejects
// outright if node is currently partitioned, otherwise attempts a
// direct transport dispatch and falls back to tree-forwarding through
// the Coordinator on failure. The channel argument partisan's API
// documents for this call is dropped, per spec.md §9 open question
// (c): it is accepted here as part of opts and otherwise ignored.
func (c *Coordinator) ForwardMessage(node PeerSpec, targetName, serverRef string, msg []byte, opts map[string]string) error {
	if c.partitions.IsPartitioned(node) {
		return perrors.ErrPartitioned
	}
	frame := Frame{Kind: TagForwardMessage, TargetName: targetName, ServerRef: serverRef, InnerMsg: msg, Options: opts}
	if err := c.transport.Dispatch(node, frame); err == nil {
		return nil
	}
	c.post(func() {
		c.tree.Forward(node, msg, c.cfg.RelayTTL)
	})
	return nil
}

// InjectPartition implements spec.md §4.7: if origin is self, handles
// the injection directly; otherwise asks origin to originate it. The
// returned ref is only meaningful when this node is the origin.
func (c *Coordinator) InjectPartition(origin PeerSpec, ttl int) (string, error) {
	var ref string
	c.exec(func() {
		if origin.Name == "" || origin.Name == c.self.Name {
			ref = c.originatePartition(ttl)
			return
		}
		c.sendFrame(origin, Frame{Kind: TagInjectPartition, Origin: origin, TTL: ttl})
	})
	return ref, nil
}

func (c *Coordinator) originatePartition(ttl int) string {
	ref := NewRef()
	actives := c.views.ActiveMembers()
	for _, p := range actives {
		c.partitions.Add(ref, p)
	}
	metrics.Partitions.Set(float64(c.partitions.Count()))
	if ttl > 0 {
		for _, p := range actives {
			c.sendFrame(p, Frame{Kind: TagInjectPartition, Ref: ref, Origin: c.self, TTL: ttl - 1})
		}
	}
	return ref
}

// ResolvePartition implements spec.md §4.7's resolve_partition.
func (c *Coordinator) ResolvePartition(ref string) error {
	c.exec(func() { c.resolvePartitionLocal(ref) })
	return nil
}

func (c *Coordinator) resolvePartitionLocal(ref string) {
	if !c.partitions.Resolve(ref) {
		return
	}
	metrics.Partitions.Set(float64(c.partitions.Count()))
	for _, p := range c.views.ActiveMembers() {
		c.sendFrame(p, Frame{Kind: TagResolvePartition, Ref: ref})
	}
}

// ActiveViewLen, PassiveViewLen, and PartitionCount implement
// metrics.ViewSizer so the Coordinator can feed the Prometheus
// exporter directly.
func (c *Coordinator) ActiveViewLen() int  { return c.views.ActiveLen() }
func (c *Coordinator) PassiveViewLen() int { return c.views.PassiveLen() }
func (c *Coordinator) PartitionCount() int { return c.partitions.Count() }

// Shutdown is the supplemented (SPEC_FULL.md §10) graceful teardown:
// it disconnects every active peer with a proper DISCONNECT frame,
// stops the timer scheduler, and drains the command queue.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.exec(func() {
			for _, p := range c.views.ActiveMembers() {
				c.disconnectPeer(p)
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.timers.Stop()
	close(c.cmds)
	c.wg.Wait()

	if c.epochStore != nil {
		if err := c.epochStore.Close(); err != nil {
			return fmt.Errorf("close epoch store: %w", err)
		}
	}
	return nil
}
