package membership

import (
	"math/rand"
	"sync"
)

// ViewSet owns the active view, passive view, and reserved slot table
// for a single node. It is only ever mutated from the Coordinator's
// single-writer loop; the mutex exists so snapshot reads (members(),
// metrics collection) can run concurrently with it.
//
// Grounded on internal/cluster/gossip/gossip.go's
// map[string]*GossipNode + sync.RWMutex bookkeeping, generalized from
// a single flat node table to the active/passive/reserved split
// spec.md §3 requires.
type ViewSet struct {
	mu sync.RWMutex

	self PeerSpec

	active  map[string]PeerSpec
	passive map[string]PeerSpec

	reserved map[Tag]*PeerSpec // nil value = unfilled slot

	maxActive  int
	maxPassive int
}

// NewViewSet creates an empty ViewSet for self, with one unfilled slot
// per reserved tag.
func NewViewSet(self PeerSpec, maxActive, maxPassive int, reservations []Tag) *ViewSet {
	reserved := make(map[Tag]*PeerSpec, len(reservations))
	for _, t := range reservations {
		reserved[t] = nil
	}
	return &ViewSet{
		self:       self,
		active:     make(map[string]PeerSpec),
		passive:    make(map[string]PeerSpec),
		reserved:   reserved,
		maxActive:  maxActive,
		maxPassive: maxPassive,
	}
}

// unfilledReservedCount returns the number of reserved tags with no
// peer assigned, which occupy active-view capacity per spec.md §3.
func (v *ViewSet) unfilledReservedCount() int {
	n := 0
	for _, p := range v.reserved {
		if p == nil {
			n++
		}
	}
	return n
}

// activeOccupancyLocked returns |Active| + unfilled reserved slots,
// the quantity bounded by max_active_size. Caller holds v.mu.
func (v *ViewSet) activeOccupancyLocked() int {
	return len(v.active) + v.unfilledReservedCount()
}

// ActiveFull reports whether the active view has no remaining room,
// counting unfilled reserved slots as occupying capacity.
func (v *ViewSet) ActiveFull() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.activeOccupancyLocked() >= v.maxActive
}

// BelowMinimum reports whether the active view's occupancy (filled
// slots plus unfilled reserved slots) is below min, the trigger
// condition for spec.md §4.5's random_promotion timer.
func (v *ViewSet) BelowMinimum(min int) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.activeOccupancyLocked() < min
}

// ActiveLen returns the current size of the active view (filled slots
// only; unfilled reserved slots are not peers).
func (v *ViewSet) ActiveLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.active)
}

// PassiveLen returns the current size of the passive view.
func (v *ViewSet) PassiveLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.passive)
}

// InActive reports whether p is currently in the active view.
func (v *ViewSet) InActive(p PeerSpec) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.active[p.Name]
	return ok
}

// InPassive reports whether p is currently in the passive view.
func (v *ViewSet) InPassive(p PeerSpec) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.passive[p.Name]
	return ok
}

// ActiveMembers returns a snapshot of the active view.
func (v *ViewSet) ActiveMembers() []PeerSpec {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]PeerSpec, 0, len(v.active))
	for _, p := range v.active {
		out = append(out, p)
	}
	return out
}

// PassiveMembers returns a snapshot of the passive view.
func (v *ViewSet) PassiveMembers() []PeerSpec {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]PeerSpec, 0, len(v.passive))
	for _, p := range v.passive {
		out = append(out, p)
	}
	return out
}

// ReservedSlot returns the peer currently holding tag, if any.
func (v *ViewSet) ReservedSlot(t Tag) (PeerSpec, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.reserved[t]
	if !ok || p == nil {
		return PeerSpec{}, false
	}
	return *p, true
}

// ReservedTagFor returns the tag reserved for p, if p currently fills
// a reserved slot.
func (v *ViewSet) ReservedTagFor(p PeerSpec) (Tag, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for t, holder := range v.reserved {
		if holder != nil && holder.Name == p.Name {
			return t, true
		}
	}
	return "", false
}

// HasUnfilledSlot reports whether tag names a reservation that is
// currently unfilled.
func (v *ViewSet) HasUnfilledSlot(t Tag) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.reserved[t]
	return ok && p == nil
}

// ReservationCount returns the number of reserved tags.
func (v *ViewSet) ReservationCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.reserved)
}

// Reserve adds tag as a reserved (initially unfilled) slot if it does
// not already exist. Returns false if the active-view cap has already
// been reached by existing reservations; the Coordinator turns that
// into ErrNoAvailableSlots.
func (v *ViewSet) Reserve(t Tag) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.reserved[t]; ok {
		return true // idempotent
	}
	if len(v.reserved) >= v.maxActive {
		return false
	}
	v.reserved[t] = nil
	return true
}

// RemoveFromPassive deletes p from the passive view, if present.
func (v *ViewSet) RemoveFromPassive(p PeerSpec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.passive, p.Name)
}

// RemoveFromActive deletes p from the active view and clears any
// reserved slot it held, if present.
func (v *ViewSet) RemoveFromActive(p PeerSpec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.active, p.Name)
	for t, holder := range v.reserved {
		if holder != nil && holder.Name == p.Name {
			v.reserved[t] = nil
		}
	}
}

// randomExcludingLocked draws a uniformly random PeerSpec from src
// excluding any name in exclude, or returns false if nothing
// qualifies. Per spec.md §9, never panics on an empty candidate set.
func randomExcludingLocked(src map[string]PeerSpec, exclude map[string]bool) (PeerSpec, bool) {
	candidates := make([]PeerSpec, 0, len(src))
	for name, p := range src {
		if exclude[name] {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return PeerSpec{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// RandomActiveExcluding draws a uniformly random active peer, skipping
// any PeerSpec whose Name is in exclude.
func (v *ViewSet) RandomActiveExcluding(exclude ...PeerSpec) (PeerSpec, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ex := namesOf(exclude)
	return randomExcludingLocked(v.active, ex)
}

// RandomPassiveExcluding draws a uniformly random passive peer,
// skipping any PeerSpec whose Name is in exclude.
func (v *ViewSet) RandomPassiveExcluding(exclude ...PeerSpec) (PeerSpec, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ex := namesOf(exclude)
	return randomExcludingLocked(v.passive, ex)
}

// RandomActiveNonReservedExcluding draws a random active peer that is
// not self, not in exclude, and does not currently fill a reserved
// slot — the eviction candidate pool for §4.3 step 3.
func (v *ViewSet) RandomActiveNonReservedExcluding(exclude ...PeerSpec) (PeerSpec, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	reservedHolders := make(map[string]bool, len(v.reserved))
	for _, holder := range v.reserved {
		if holder != nil {
			reservedHolders[holder.Name] = true
		}
	}
	ex := namesOf(exclude)
	ex[v.self.Name] = true

	candidates := make([]PeerSpec, 0, len(v.active))
	for name, p := range v.active {
		if ex[name] || reservedHolders[name] {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return PeerSpec{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// SampleActive returns up to k distinct, uniformly-sampled active
// peers (without replacement), used to build shuffle/merge exchanges.
func (v *ViewSet) SampleActive(k int) []PeerSpec {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sampleMap(v.active, k)
}

// SamplePassive returns up to k distinct, uniformly-sampled passive
// peers (without replacement).
func (v *ViewSet) SamplePassive(k int) []PeerSpec {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sampleMap(v.passive, k)
}

func sampleMap(m map[string]PeerSpec, k int) []PeerSpec {
	all := make([]PeerSpec, 0, len(m))
	for _, p := range m {
		all = append(all, p)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

func namesOf(peers []PeerSpec) map[string]bool {
	out := make(map[string]bool, len(peers))
	for _, p := range peers {
		out[p.Name] = true
	}
	return out
}

// AdmitResult describes the side effects of AddToActiveView that the
// Coordinator must turn into outbound frames / transport calls.
type AdmitResult struct {
	Admitted bool
	Evicted  *PeerSpec
}

// AddToActiveView implements spec.md §4.3. Any peer evicted to make
// room is returned in AdmitResult.Evicted; the caller (Coordinator) is
// responsible for computing its DisconnectId, sending the DISCONNECT
// frame and closing the transport connection — ViewSet only owns the
// view mutation itself.
func (v *ViewSet) AddToActiveView(p PeerSpec, t Tag) AdmitResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.Name == v.self.Name {
		return AdmitResult{}
	}
	if _, ok := v.active[p.Name]; ok {
		return AdmitResult{}
	}

	delete(v.passive, p.Name)

	var evicted *PeerSpec
	if v.activeOccupancyLocked() >= v.maxActive {
		reservedHolders := make(map[string]bool, len(v.reserved))
		for _, holder := range v.reserved {
			if holder != nil {
				reservedHolders[holder.Name] = true
			}
		}
		candidates := make([]PeerSpec, 0, len(v.active))
		for name, cand := range v.active {
			if name == v.self.Name || reservedHolders[name] {
				continue
			}
			candidates = append(candidates, cand)
		}
		if len(candidates) > 0 {
			victim := candidates[rand.Intn(len(candidates))]
			delete(v.active, victim.Name)
			v.passive[victim.Name] = victim
			if len(v.passive) > v.maxPassive {
				evictOneExcludingLocked(v.passive, v.self.Name)
			}
			evicted = &victim
		}
	}

	v.active[p.Name] = p

	if t != "" {
		if holder, ok := v.reserved[t]; ok && holder == nil {
			v.reserved[t] = &p
		}
	}

	return AdmitResult{Admitted: true, Evicted: evicted}
}

// AddToPassiveView implements spec.md §4.4.
func (v *ViewSet) AddToPassiveView(p PeerSpec) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.addToPassiveViewLocked(p)
}

func (v *ViewSet) addToPassiveViewLocked(p PeerSpec) bool {
	if p.Name == v.self.Name {
		return false
	}
	if _, ok := v.active[p.Name]; ok {
		return false
	}
	if _, ok := v.passive[p.Name]; ok {
		return false
	}
	if len(v.passive) >= v.maxPassive {
		evictOneExcludingLocked(v.passive, v.self.Name)
	}
	v.passive[p.Name] = p
	return true
}

func evictOneExcludingLocked(m map[string]PeerSpec, excludeName string) {
	for name := range m {
		if name == excludeName {
			continue
		}
		delete(m, name)
		return
	}
}

// MergeExchange computes E − ({self} ∪ Active) and adds each
// remaining peer to the passive view, subject to the fullness rule —
// spec.md §4.2 "Exchange merge".
func (v *ViewSet) MergeExchange(exchange []PeerSpec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range exchange {
		if p.Name == v.self.Name {
			continue
		}
		if _, ok := v.active[p.Name]; ok {
			continue
		}
		v.addToPassiveViewLocked(p)
	}
}

// ComposeExchange builds [self] ++ sample(Active,kActive) ++
// sample(Passive,kPassive), deduplicated, per spec.md §4.2/§4.5.
func (v *ViewSet) ComposeExchange(kActive, kPassive int) []PeerSpec {
	v.mu.RLock()
	activeSample := sampleMap(v.active, kActive)
	passiveSample := sampleMap(v.passive, kPassive)
	self := v.self
	v.mu.RUnlock()

	seen := map[string]bool{self.Name: true}
	out := []PeerSpec{self}
	for _, p := range append(activeSample, passiveSample...) {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}
