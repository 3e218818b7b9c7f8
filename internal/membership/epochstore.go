package membership

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

const epochKey = "cluster-epoch"

// EpochStore persists the local restart epoch across process
// lifetimes. Backed by Badger — spec.md §2/§6 calls for "a small disk
// key/value for epoch persistence", and the teacher already wires
// Badger as its storage engine (internal/engine/badger/store.go), so
// the same library is reused here instead of a bespoke file format.
//
// When DataDir is empty, NewEpochStore returns an in-memory store that
// always starts at epoch 0 and silently discards writes, matching
// spec.md §6's tolerance for partisan_data_dir being unset.
type EpochStore struct {
	db *badger.DB
}

// NewEpochStore opens (creating if absent) the Badger database rooted
// at <dataDir>/peer_service/cluster_state, per spec.md §6's file-path
// convention. An empty dataDir disables persistence.
func NewEpochStore(dataDir string) (*EpochStore, error) {
	if dataDir == "" {
		return &EpochStore{}, nil
	}

	path := filepath.Join(dataDir, "peer_service", "cluster_state")
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open epoch store: %w", err)
	}
	return &EpochStore{db: db}, nil
}

// Close releases the underlying database handle, if any.
func (s *EpochStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the persisted epoch, or 0 if none has been written yet.
func (s *EpochStore) Load() (Epoch, error) {
	if s.db == nil {
		return 0, nil
	}

	var epoch Epoch
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(epochKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt epoch record: %d bytes", len(val))
			}
			epoch = Epoch(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	return epoch, err
}

// Store persists epoch, overwriting any previous value.
func (s *EpochStore) Store(epoch Epoch) error {
	if s.db == nil {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(epoch))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(epochKey), buf)
	})
}

// Bump loads the stored epoch, increments it by one, persists the
// result, and returns the new value — the startup sequence spec.md
// §6 describes ("epoch := epoch+1 and rewrite"). Disk write failures
// are non-fatal and logged by the caller (spec.md §7); Bump itself
// returns the error so the caller can decide.
func (s *EpochStore) Bump() (Epoch, error) {
	current, err := s.Load()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.Store(next); err != nil {
		return next, err
	}
	return next, nil
}
