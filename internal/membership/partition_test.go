package membership

import "testing"

func TestPartitionTableAddAndIsPartitioned(t *testing.T) {
	pt := NewPartitionTable()
	if pt.IsPartitioned(peer("B")) {
		t.Fatalf("a fresh table should report nothing partitioned")
	}

	ref := NewRef()
	pt.Add(ref, peer("B"))
	pt.Add(ref, peer("C"))

	if !pt.IsPartitioned(peer("B")) || !pt.IsPartitioned(peer("C")) {
		t.Errorf("B and C should both be partitioned under ref %q", ref)
	}
	if pt.IsPartitioned(peer("D")) {
		t.Errorf("D was never added to the partition table")
	}
	if pt.Count() != 2 {
		t.Errorf("Count() = %d, want 2", pt.Count())
	}
}

func TestPartitionTableResolveScopedByRef(t *testing.T) {
	pt := NewPartitionTable()
	ref1 := NewRef()
	ref2 := NewRef()
	pt.Add(ref1, peer("B"))
	pt.Add(ref2, peer("C"))

	if changed := pt.Resolve(ref1); !changed {
		t.Fatalf("resolving a ref with an entry should report a change")
	}
	if pt.IsPartitioned(peer("B")) {
		t.Errorf("B should no longer be partitioned after resolving its ref")
	}
	if !pt.IsPartitioned(peer("C")) {
		t.Errorf("C's partition under a different ref must survive resolving ref1")
	}

	if changed := pt.Resolve(ref1); changed {
		t.Errorf("resolving an already-cleared ref a second time should report no change")
	}
}

func TestNewRefIsUniqueAndOpaque(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ref := NewRef()
		if ref == "" {
			t.Fatalf("NewRef() returned an empty ref")
		}
		if seen[ref] {
			t.Fatalf("NewRef() produced a duplicate: %q", ref)
		}
		seen[ref] = true
	}
}
