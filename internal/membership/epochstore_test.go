package membership

import (
	"os"
	"testing"
)

func createTestEpochStore(t *testing.T) (*EpochStore, string) {
	dir, err := os.MkdirTemp("", "epochstore-test")
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewEpochStore(dir)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return store, dir
}

func closeTestEpochStore(t *testing.T, store *EpochStore, dir string) {
	store.Close()
	os.RemoveAll(dir)
}

func TestEpochStore_LoadDefaultsToZero(t *testing.T) {
	store, dir := createTestEpochStore(t)
	defer closeTestEpochStore(t, store, dir)

	epoch, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if epoch != 0 {
		t.Errorf("Load on a fresh store = %d, want 0", epoch)
	}
}

func TestEpochStore_StoreAndLoadRoundTrip(t *testing.T) {
	store, dir := createTestEpochStore(t)
	defer closeTestEpochStore(t, store, dir)

	if err := store.Store(Epoch(42)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	epoch, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if epoch != 42 {
		t.Errorf("Load after Store(42) = %d, want 42", epoch)
	}
}

func TestEpochStore_BumpIncrementsAndPersists(t *testing.T) {
	store, dir := createTestEpochStore(t)
	defer closeTestEpochStore(t, store, dir)

	first, err := store.Bump()
	if err != nil {
		t.Fatalf("Bump failed: %v", err)
	}
	if first != 1 {
		t.Errorf("first Bump() = %d, want 1", first)
	}

	second, err := store.Bump()
	if err != nil {
		t.Fatalf("Bump failed: %v", err)
	}
	if second != 2 {
		t.Errorf("second Bump() = %d, want 2", second)
	}

	epoch, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if epoch != 2 {
		t.Errorf("Load after two Bumps = %d, want 2", epoch)
	}
}

func TestEpochStore_EmptyDataDirDisablesPersistence(t *testing.T) {
	store, err := NewEpochStore("")
	if err != nil {
		t.Fatalf("NewEpochStore(\"\") should never fail: %v", err)
	}
	defer store.Close()

	epoch, err := store.Load()
	if err != nil || epoch != 0 {
		t.Errorf("Load on an in-memory store = (%d, %v), want (0, nil)", epoch, err)
	}

	if err := store.Store(Epoch(7)); err != nil {
		t.Fatalf("Store on an in-memory store should not error: %v", err)
	}
	epoch, err = store.Load()
	if err != nil || epoch != 0 {
		t.Errorf("writes to an in-memory store must be silently discarded, got (%d, %v)", epoch, err)
	}

	bumped, err := store.Bump()
	if err != nil || bumped != 1 {
		t.Errorf("Bump on an in-memory store = (%d, %v), want (1, nil)", bumped, err)
	}
}
