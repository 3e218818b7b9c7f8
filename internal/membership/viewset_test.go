package membership

import "testing"

func peer(name string) PeerSpec {
	return PeerSpec{Name: name, Endpoint: name + ":7946"}
}

func TestAddToActiveView_SimpleJoin(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 2, 10, nil)

	result := vs.AddToActiveView(peer("B"), "")
	if !result.Admitted {
		t.Fatalf("expected B to be admitted into an empty active view")
	}
	if result.Evicted != nil {
		t.Fatalf("expected no eviction when active view has room, got %v", result.Evicted)
	}
	if !vs.InActive(peer("B")) {
		t.Errorf("B should be in the active view")
	}
	if vs.ActiveLen() != 1 {
		t.Errorf("ActiveLen() = %d, want 1", vs.ActiveLen())
	}
}

func TestAddToActiveView_RejectsSelf(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 2, 10, nil)
	result := vs.AddToActiveView(self, "")
	if result.Admitted {
		t.Errorf("adding self to its own active view should be a no-op")
	}
}

func TestAddToActiveView_EvictsWhenFull(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 2, 10, nil)
	vs.AddToActiveView(peer("B"), "")
	vs.AddToActiveView(peer("C"), "")
	if vs.ActiveLen() != 2 {
		t.Fatalf("setup: expected active view full at 2, got %d", vs.ActiveLen())
	}

	result := vs.AddToActiveView(peer("D"), "")
	if !result.Admitted {
		t.Fatalf("expected D to be admitted by evicting an existing peer")
	}
	if result.Evicted == nil {
		t.Fatalf("expected an eviction when active view was full")
	}
	if vs.ActiveLen() != 2 {
		t.Errorf("active view should remain at capacity after eviction, got %d", vs.ActiveLen())
	}
	if !vs.InActive(peer("D")) {
		t.Errorf("D should now be active")
	}
	if !vs.InPassive(*result.Evicted) {
		t.Errorf("evicted peer %v should land in the passive view", result.Evicted)
	}
}

func TestAddToActiveView_ReservedSlotsNeverEvicted(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 2, 10, []Tag{"db"})
	vs.AddToActiveView(peer("B"), "db")
	vs.AddToActiveView(peer("C"), "")

	for i := 0; i < 20; i++ {
		result := vs.AddToActiveView(peer("extra"), "")
		if !result.Admitted {
			continue
		}
		if result.Evicted != nil && result.Evicted.Name == "B" {
			t.Fatalf("peer holding the reserved slot must never be the eviction target")
		}
		vs.RemoveFromActive(peer("extra"))
		vs.AddToActiveView(peer("C"), "")
	}
}

func TestAddToActiveView_ReservationFillsOnce(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 3, 10, []Tag{"db"})
	vs.AddToActiveView(peer("B"), "db")

	tag, ok := vs.ReservedTagFor(peer("B"))
	if !ok || tag != "db" {
		t.Fatalf("expected B to hold the db reservation, got tag=%q ok=%v", tag, ok)
	}

	vs.AddToActiveView(peer("C"), "db")
	if holder, _ := vs.ReservedSlot("db"); holder.Name != "B" {
		t.Errorf("db reservation should stay with B; a second peer claiming the same tag must not steal it")
	}
}

func TestAddToActiveView_UnfilledReservationCountsAgainstCapacity(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 1, 10, []Tag{"db"})
	if !vs.ActiveFull() {
		t.Fatalf("an unfilled reservation should already occupy the sole active slot")
	}
	result := vs.AddToActiveView(peer("B"), "")
	if !result.Admitted {
		t.Fatalf("expected B (no tag) to still be admittable by evicting nothing, since nothing is active yet")
	}
}

func TestAddToPassiveView(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 6, 2, nil)

	if !vs.AddToPassiveView(peer("B")) {
		t.Fatalf("expected B to be added to an empty passive view")
	}
	if vs.AddToPassiveView(self) {
		t.Errorf("self must never enter its own passive view")
	}
	vs.AddToActiveView(peer("C"), "")
	if vs.AddToPassiveView(peer("C")) {
		t.Errorf("an active peer must never also be added to the passive view")
	}

	vs.AddToPassiveView(peer("D"))
	if vs.PassiveLen() > 2 {
		t.Errorf("passive view exceeded max_passive_size=2: got %d", vs.PassiveLen())
	}
}

func TestMergeExchange(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 6, 10, nil)
	vs.AddToActiveView(peer("B"), "")

	vs.MergeExchange([]PeerSpec{self, peer("B"), peer("C"), peer("D")})

	if vs.InPassive(self) {
		t.Errorf("self must never be merged into the passive view")
	}
	if vs.InPassive(peer("B")) {
		t.Errorf("an already-active peer must not also land in the passive view")
	}
	if !vs.InPassive(peer("C")) || !vs.InPassive(peer("D")) {
		t.Errorf("C and D should have been merged into the passive view")
	}
}

func TestComposeExchangeIncludesSelfOnce(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 6, 10, nil)
	vs.AddToActiveView(peer("B"), "")
	vs.AddToPassiveView(peer("C"))

	exchange := vs.ComposeExchange(3, 4)
	if len(exchange) == 0 || !exchange[0].Equal(self) {
		t.Fatalf("ComposeExchange should prepend self, got %v", exchange)
	}
	count := 0
	for _, p := range exchange {
		if p.Equal(self) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("self should appear exactly once in the exchange, appeared %d times", count)
	}
}

func TestReserveIdempotentAndBounded(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 1, 10, nil)
	if !vs.Reserve("db") {
		t.Fatalf("first reservation should succeed")
	}
	if !vs.Reserve("db") {
		t.Errorf("re-reserving the same tag should be idempotent, not fail")
	}
	if vs.Reserve("cache") {
		t.Errorf("reserving a second tag beyond max_active_size=1 should fail")
	}
}

func TestRandomExcludingNeverPanicsOnEmpty(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 6, 10, nil)
	if _, ok := vs.RandomActiveExcluding(self); ok {
		t.Errorf("expected no candidate in an empty active view")
	}
	if _, ok := vs.RandomPassiveExcluding(self); ok {
		t.Errorf("expected no candidate in an empty passive view")
	}
}

func TestBelowMinimum(t *testing.T) {
	self := peer("A")
	vs := NewViewSet(self, 6, 10, nil)
	if !vs.BelowMinimum(3) {
		t.Fatalf("an empty active view should be below any positive minimum")
	}
	vs.AddToActiveView(peer("B"), "")
	vs.AddToActiveView(peer("C"), "")
	vs.AddToActiveView(peer("D"), "")
	if vs.BelowMinimum(3) {
		t.Errorf("active view of size 3 should not be below minimum 3")
	}
}
