package membership

import "github.com/peerview/hyparview/internal/metrics"

// dispatchFrame is the exhaustive tagged-frame dispatch spec.md §9
// calls for: every FrameTag gets exactly one case, and an unrecognized
// tag is logged and discarded rather than panicking the Coordinator's
// single goroutine. Grounded on the teacher's gossip.go
// handlePing/handlePong/handleFail dispatch-by-tag switch.
func (c *Coordinator) dispatchFrame(from PeerSpec, f Frame) {
	metrics.RecordFrameReceived(f.Kind.String())

	switch f.Kind {
	case TagJoin:
		c.handleJoin(from, f)
	case TagForwardJoin:
		c.handleForwardJoin(from, f)
	case TagNeighbor:
		c.handleNeighbor(from, f)
	case TagNeighborRequest:
		c.handleNeighborRequest(from, f)
	case TagNeighborAccepted:
		c.handleNeighborAccepted(from, f)
	case TagNeighborRejected:
		c.handleNeighborRejected(from, f)
	case TagDisconnect:
		c.handleDisconnect(from, f)
	case TagShuffle:
		c.handleShuffle(from, f)
	case TagShuffleReply:
		c.handleShuffleReply(from, f)
	case TagRelayMessage:
		c.handleRelayMessage(from, f)
	case TagInjectPartition:
		c.handleInjectPartition(from, f)
	case TagResolvePartition:
		c.handleResolvePartition(from, f)
	case TagForwardMessage:
		c.handleForwardMessageFrame(from, f)
	default:
		c.logger.Warnf("dropping frame with unknown tag %d from %s", f.Kind, from)
		metrics.RecordFrameDropped("unknown_tag")
	}
}

// admitPeer runs the admission check spec.md §4.3 shares between JOIN
// and a terminal FORWARD_JOIN: reject a stale epoch, skip a peer
// that's already active, make sure the transport has a live
// connection, add to the active view (evicting if full), and reply
// NEIGHBOR. Returns whether peer was actually admitted.
func (c *Coordinator) admitPeer(peer PeerSpec, tag Tag, epoch PeerEpoch) bool {
	if !c.sent.IsAddableEpoch(epoch, peer) {
		metrics.RecordFrameDropped("stale_join")
		return false
	}
	if c.views.InActive(peer) {
		return false
	}
	if !c.transport.IsConnected(peer) {
		c.transport.MaybeConnect(peer)
	}
	if !c.transport.IsConnected(peer) {
		return false
	}

	result := c.views.AddToActiveView(peer, tag)
	if !result.Admitted {
		return false
	}
	c.handleEviction(result)

	recvID, _ := c.recv.Get(peer)
	c.sendFrame(peer, Frame{Kind: TagNeighbor, Peer: c.self, PeerTag: c.cfg.Tag, DisconnectID: recvID, Target: peer})
	return true
}

// handleEviction turns an AddToActiveView eviction into the DISCONNECT
// frame and transport teardown spec.md §4.3 step 3 describes.
func (c *Coordinator) handleEviction(result AdmitResult) {
	if result.Evicted == nil {
		return
	}
	evicted := *result.Evicted
	id := DisconnectId{Epoch: c.epoch, Counter: c.sent.NextCounter(evicted)}
	c.sent.Set(evicted, id)
	c.sendFrame(evicted, Frame{Kind: TagDisconnect, Peer: c.self, DisconnectID: id})
	c.disconnectTransport(evicted)
	metrics.RecordEviction()
}

// disconnectPeer removes peer from the active view if present, sends
// it a DISCONNECT frame recording our own advancing disconnect id, and
// closes the transport connection. Used for NEIGHBOR_REJECTED and
// graceful shutdown.
func (c *Coordinator) disconnectPeer(peer PeerSpec) {
	if c.views.InActive(peer) {
		c.views.RemoveFromActive(peer)
		id := DisconnectId{Epoch: c.epoch, Counter: c.sent.NextCounter(peer)}
		c.sent.Set(peer, id)
		c.sendFrame(peer, Frame{Kind: TagDisconnect, Peer: c.self, DisconnectID: id})
	}
	c.disconnectTransport(peer)
}

// handleJoin implements spec.md §4.2's JOIN: admit the joiner, then
// fan FORWARD_JOIN out to every other active-view member. If the
// joiner is the only active peer, the loop naturally sends nothing.
func (c *Coordinator) handleJoin(from PeerSpec, f Frame) {
	if !c.admitPeer(f.Peer, f.PeerTag, f.Epoch) {
		return
	}
	for _, p := range c.views.ActiveMembers() {
		if p.Name == c.self.Name || p.Name == f.Peer.Name {
			continue
		}
		c.sendFrame(p, Frame{Kind: TagForwardJoin, Peer: f.Peer, PeerTag: f.PeerTag, Epoch: f.Epoch, TTL: c.cfg.ARWL, Sender: c.self})
	}
}

// handleForwardJoin implements spec.md §4.2's FORWARD_JOIN: terminate
// and admit once ttl is exhausted or this node has no other active
// peer to continue the random walk through; otherwise add the joiner
// as a passive-view candidate at the walk's PRWL boundary and continue
// the walk to a random active peer other than the walk's sender, self,
// and the joiner itself.
func (c *Coordinator) handleForwardJoin(from PeerSpec, f Frame) {
	if f.TTL == 0 || c.views.ActiveLen() == 0 {
		c.admitPeer(f.Peer, f.PeerTag, f.Epoch)
		return
	}
	if f.TTL == c.cfg.PRWL {
		c.views.AddToPassiveView(f.Peer)
	}
	if next, ok := c.views.RandomActiveExcluding(f.Sender, c.self, f.Peer); ok {
		c.sendFrame(next, Frame{Kind: TagForwardJoin, Peer: f.Peer, PeerTag: f.PeerTag, Epoch: f.Epoch, TTL: f.TTL - 1, Sender: c.self})
		return
	}
	c.admitPeer(f.Peer, f.PeerTag, f.Epoch)
}

// handleNeighbor implements spec.md §4.2's NEIGHBOR: a join reply, or
// an unsolicited announcement, admitting the sender into the active
// view if its disconnect id isn't stale.
func (c *Coordinator) handleNeighbor(from PeerSpec, f Frame) {
	if !c.sent.IsAddableID(f.DisconnectID, f.Peer) {
		metrics.RecordFrameDropped("stale_neighbor")
		return
	}
	if !c.transport.IsConnected(f.Peer) {
		c.transport.MaybeConnect(f.Peer)
	}
	if !c.transport.IsConnected(f.Peer) {
		return
	}
	result := c.views.AddToActiveView(f.Peer, f.PeerTag)
	if !result.Admitted {
		return
	}
	c.handleEviction(result)
	// on_up is not_implemented (spec.md §4.1 open question), so there
	// is no subscriber notification to perform here.
	c.logger.Debugf("%s joined active view via NEIGHBOR", f.Peer)
}

// neighborAcceptable is the admission test spec.md §4.2's
// NEIGHBOR_REQUEST handler runs before accepting: a high-priority
// request is always accepted (it is how random_promotion repairs a
// too-small active view); otherwise accept if the request fills an
// unfilled reservation, or if there's ordinary room.
func (c *Coordinator) neighborAcceptable(priority Priority, tag Tag) bool {
	if priority == PriorityHigh {
		return true
	}
	if tag != "" && c.views.HasUnfilledSlot(tag) {
		return true
	}
	return !c.views.ActiveFull()
}

// handleNeighborRequest implements spec.md §4.2's NEIGHBOR_REQUEST:
// accept or reject based on neighborAcceptable and disconnect-id
// freshness, replying with our own exchange either way, then merge the
// requester's exchange into our passive view.
func (c *Coordinator) handleNeighborRequest(from PeerSpec, f Frame) {
	exchangeAck := c.views.ComposeExchange(kActiveSample, kPassiveSample)

	if c.neighborAcceptable(f.Priority, f.PeerTag) && c.sent.IsAddableID(f.DisconnectID, f.Peer) {
		if !c.transport.IsConnected(f.Peer) {
			c.transport.MaybeConnect(f.Peer)
		}
		if c.transport.IsConnected(f.Peer) {
			recvID, _ := c.recv.Get(f.Peer)
			c.sendFrame(f.Peer, Frame{Kind: TagNeighborAccepted, Peer: c.self, PeerTag: c.cfg.Tag, DisconnectID: recvID, Exchange: exchangeAck})
			result := c.views.AddToActiveView(f.Peer, f.PeerTag)
			c.handleEviction(result)
			c.views.MergeExchange(f.Exchange)
			return
		}
	}

	c.sendFrame(f.Peer, Frame{Kind: TagNeighborRejected, Peer: c.self, Exchange: exchangeAck})
	c.views.MergeExchange(f.Exchange)
}

// handleNeighborAccepted implements spec.md §4.2's NEIGHBOR_ACCEPTED:
// admit the accepting peer if fresh, and merge its returned exchange.
func (c *Coordinator) handleNeighborAccepted(from PeerSpec, f Frame) {
	if c.sent.IsAddableID(f.DisconnectID, f.Peer) {
		result := c.views.AddToActiveView(f.Peer, f.PeerTag)
		c.handleEviction(result)
	}
	c.views.MergeExchange(f.Exchange)
}

// handleNeighborRejected implements spec.md §4.2's NEIGHBOR_REJECTED:
// drop any active-view membership the rejecting peer held and merge
// its exchange.
func (c *Coordinator) handleNeighborRejected(from PeerSpec, f Frame) {
	c.disconnectPeer(f.Peer)
	c.views.MergeExchange(f.Exchange)
}

// handleDisconnect implements spec.md §4.2's DISCONNECT: a stale or
// duplicate disconnect id is dropped outright; otherwise move the peer
// from active to passive, record the id as the newest one received
// from that peer, tear down the transport connection, and — if this
// was the only active peer — attempt to repair by promoting a random
// passive peer.
func (c *Coordinator) handleDisconnect(from PeerSpec, f Frame) {
	if !c.recv.IsValidDisconnect(f.Peer, f.DisconnectID) {
		metrics.RecordFrameDropped("stale_disconnect")
		return
	}
	c.views.RemoveFromActive(f.Peer)
	c.views.AddToPassiveView(f.Peer)
	c.recv.Set(f.Peer, f.DisconnectID)
	c.disconnectTransport(f.Peer)

	if c.views.ActiveLen() == 0 {
		c.promoteRandomPassive("repair", f.Peer)
	}
}

// handleShuffle implements spec.md §4.2's SHUFFLE: continue the random
// walk to an active peer other than self and the walk's sender while
// ttl remains and a candidate exists; otherwise reply with a
// passive-view sample and merge the carried exchange.
func (c *Coordinator) handleShuffle(from PeerSpec, f Frame) {
	if f.TTL > 0 && c.views.ActiveLen() > 0 {
		if next, ok := c.views.RandomActiveExcluding(f.Sender, c.self); ok {
			c.sendFrame(next, Frame{Kind: TagShuffle, Exchange: f.Exchange, TTL: f.TTL - 1, Sender: c.self})
			return
		}
	}
	reply := c.views.SamplePassive(len(f.Exchange))
	c.sendFrame(f.Sender, Frame{Kind: TagShuffleReply, Exchange: reply, Sender: c.self})
	c.views.MergeExchange(f.Exchange)
}

// handleShuffleReply implements spec.md §4.2's SHUFFLE_REPLY: merge
// the replying peer's sample into the passive view.
func (c *Coordinator) handleShuffleReply(from PeerSpec, f Frame) {
	c.views.MergeExchange(f.Exchange)
}

// handleRelayMessage implements spec.md §4.2/§4.8's RELAY_MESSAGE:
// deliver transitively if the target is directly active here,
// otherwise continue fanning out to the broadcast-tree out-links
// while ttl remains.
func (c *Coordinator) handleRelayMessage(from PeerSpec, f Frame) {
	if c.views.InActive(f.TargetNode) || f.TargetNode.Name == c.self.Name {
		if c.OnRelayDeliver != nil {
			c.OnRelayDeliver(f.TargetNode, f.InnerMsg, true, c.tree.CachedOutLinks())
		} else {
			c.logger.Debugf("relay_message to %s delivered transitively, no callback installed", f.TargetNode)
		}
		return
	}
	if f.TTL > 0 {
		c.tree.Forward(f.TargetNode, f.InnerMsg, f.TTL-1)
	}
}

// handleForwardMessageFrame implements spec.md §4.2's forward_message
// wire frame arriving through the Coordinator, the default
// (disable_fast_receive=true) path per spec.md §6.
func (c *Coordinator) handleForwardMessageFrame(from PeerSpec, f Frame) {
	if c.OnDeliver != nil {
		c.OnDeliver(f.TargetName, f.ServerRef, f.InnerMsg, f.Options)
		return
	}
	c.logger.Debugf("forward_message to %s dropped, no deliver callback installed", f.TargetName)
}

// handleInjectPartition implements spec.md §4.7's partition-injection
// propagation. A frame with no ref is a request for this node to
// originate a fresh partition (the "origin != self" branch of
// InjectPartition); a frame carrying a ref records the partition
// locally for every currently active peer and continues propagating
// it while ttl remains.
func (c *Coordinator) handleInjectPartition(from PeerSpec, f Frame) {
	if f.Ref == "" {
		c.originatePartition(f.TTL)
		return
	}

	actives := c.views.ActiveMembers()
	for _, p := range actives {
		c.partitions.Add(f.Ref, p)
	}
	metrics.Partitions.Set(float64(c.partitions.Count()))

	if f.TTL <= 0 {
		return
	}
	for _, p := range actives {
		if p.Name == from.Name {
			continue
		}
		c.sendFrame(p, Frame{Kind: TagInjectPartition, Ref: f.Ref, Origin: f.Origin, TTL: f.TTL - 1})
	}
}

// handleResolvePartition implements spec.md §4.7's resolve_partition
// propagation: apply locally, and — only if that actually removed
// something — let resolvePartitionLocal's own propagation continue the
// flood. Idempotent application guarantees this terminates.
func (c *Coordinator) handleResolvePartition(from PeerSpec, f Frame) {
	c.resolvePartitionLocal(f.Ref)
}
