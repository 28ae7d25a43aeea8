package storage

import "gomemcached/pkg/shardmap"

// MemStore is the default, dependency-free-at-runtime Storage: an
// in-process sharded map, safe for the multi-threaded reactor backend.
// It adapts the generic shardmap.ConcurrentDict to the Storage
// contract, translating PutIfExists (the dict's redis-flavored name)
// into Set, and typing stored values as Item.
type MemStore struct {
	dict *shardmap.ConcurrentDict
}

// NewMemStore builds a MemStore with shardCount shards. shardCount
// should be a power of two; shardmap.DefaultDictSize is a reasonable
// default (pass 0 to use it).
func NewMemStore(shardCount int) *MemStore {
	if shardCount <= 0 {
		shardCount = shardmap.DefaultDictSize
	}
	return &MemStore{dict: shardmap.MakeConcurrent(shardCount)}
}

// Put unconditionally stores value, overwriting any existing entry.
func (s *MemStore) Put(key string, value Item) bool {
	s.dict.Put(key, value)
	return true
}

// PutIfAbsent stores value only if key is not already present.
func (s *MemStore) PutIfAbsent(key string, value Item) bool {
	return s.dict.PutIfAbsent(key, value) == 1
}

// Set stores value only if key is already present.
func (s *MemStore) Set(key string, value Item) bool {
	return s.dict.PutIfExists(key, value) == 1
}

// Delete removes key, reporting whether it was present.
func (s *MemStore) Delete(key string) bool {
	return s.dict.Remove(key) == 1
}

// Get retrieves key's value.
func (s *MemStore) Get(key string) (Item, bool) {
	raw, ok := s.dict.Get(key)
	if !ok {
		return Item{}, false
	}
	item, ok := raw.(Item)
	if !ok {
		return Item{}, false
	}
	return item, true
}

// Len returns the approximate number of stored keys.
func (s *MemStore) Len() int {
	return s.dict.Len()
}
