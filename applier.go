package raft

import (
	"github.com/jmsadair/raftkv/internal/errors"
)

// Store is the key-value store that committed entries are applied to. It must be
// concurrent safe since reads are served while entries are applied.
type Store interface {
	// Upsert sets the value of key, overwriting any existing value.
	Upsert(key, value string)

	// Read returns the value of key and whether it exists.
	Read(key string) (string, bool)

	// Delete removes key. Deleting a key that does not exist is a no-op.
	Delete(key string)
}

// applier applies committed entries to a store. It only mutates the store,
// never consensus state.
type applier struct {
	store Store
}

func newApplier(store Store) *applier {
	return &applier{store: store}
}

// applyEntry applies a single entry. An entry that should never have reached the
// log results in an error wrapping ErrInvalidOperation.
func (a *applier) applyEntry(entry Entry) error {
	switch entry.Op {
	case Write:
		if entry.Value == "" {
			return errors.WrapError(ErrInvalidOperation, "write missing value for key %q", entry.Key)
		}
		a.store.Upsert(entry.Key, entry.Value)
		return nil
	case Delete:
		a.store.Delete(entry.Key)
		return nil
	default:
		return errors.WrapError(ErrInvalidOperation, "cannot apply %s of key %q", entry.Op, entry.Key)
	}
}

// applyEntries applies entries in order and stops at the first fault. It returns
// the number of entries applied before the fault.
func (a *applier) applyEntries(entries []Entry) (int, error) {
	for i, entry := range entries {
		if err := a.applyEntry(entry); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
