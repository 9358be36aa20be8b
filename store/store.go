// Package store provides the ordered in-memory key-value store that committed
// log entries are applied to.
package store

import (
	"sync"

	"github.com/google/btree"
)

const degree = 32

type item struct {
	key   string
	value string
}

func less(a, b item) bool {
	return a.key < b.key
}

// Store is an in-memory ordered map from string keys to string values.
// It is concurrent safe.
type Store struct {
	tree *btree.BTreeG[item]
	mu   sync.RWMutex
}

// New creates an empty store.
func New() *Store {
	return &Store{tree: btree.NewG[item](degree, less)}
}

// Upsert sets the value of key, overwriting any existing value.
func (s *Store) Upsert(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(item{key: key, value: value})
}

// Read returns the value of key and whether it exists.
func (s *Store) Read(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.tree.Get(item{key: key})
	return found.value, ok
}

// Delete removes key. Deleting a key that does not exist is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(item{key: key})
}

// Keys returns every key in ascending order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.tree.Len())
	s.tree.Ascend(func(i item) bool {
		keys = append(keys, i.key)
		return true
	})
	return keys
}

// Len returns the number of keys in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}
