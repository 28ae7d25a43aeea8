package storage

import (
	"context"

	"github.com/jackc/puddle/v2"
)

// shardHandle is a stand-in for a handle onto an external, shared
// backend (e.g. one connection to a remote cache process). The data
// lives in the single MemStore every handle points at; the handle
// itself is what's pooled and rate-limited, exactly as pior-memcache
// pools connections to one server address rather than pooling the
// server's data.
type shardHandle struct {
	store *MemStore
}

// PooledStore fronts a shared MemStore with a fixed number of
// jackc/puddle/v2 handles, acquiring one per operation. This bounds
// the number of operations concurrently in flight against the backend
// to maxSize — the role puddle plays for pior-memcache's server
// connections, applied here to a local backend so the decorator can be
// exercised without a real external dependency. Failing to acquire a
// handle (the pool is closed; Acquire otherwise waits for a free one) is
// PooledStore's one genuine failure mode, reported through Fallible
// rather than folded into an operation's ordinary bool result.
type PooledStore struct {
	pool *puddle.Pool[*shardHandle]
}

// NewPooledStore builds a PooledStore with up to maxSize concurrently
// acquired handles onto one shared shardCount-way MemStore.
func NewPooledStore(maxSize int32, shardCount int) (*PooledStore, error) {
	shared := NewMemStore(shardCount)
	constructor := func(ctx context.Context) (*shardHandle, error) {
		return &shardHandle{store: shared}, nil
	}
	cfg := &puddle.Config[*shardHandle]{
		Constructor: constructor,
		Destructor:  func(*shardHandle) {},
		MaxSize:     maxSize,
	}
	pool, err := puddle.NewPool(cfg)
	if err != nil {
		return nil, err
	}
	return &PooledStore{pool: pool}, nil
}

// Close releases all pooled resources.
func (p *PooledStore) Close() { p.pool.Close() }

// Stats exposes puddle's pool statistics, useful for an operator
// deciding whether maxSize needs to grow.
func (p *PooledStore) Stats() puddle.Stat { return *p.pool.Stat() }

// withHandle acquires a handle, runs fn against its backing store, and
// releases it. A non-nil return means the handle was never acquired;
// fn did not run.
func (p *PooledStore) withHandle(fn func(*MemStore)) error {
	res, err := p.pool.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer res.Release()
	fn(res.Value().store)
	return nil
}

func (p *PooledStore) Put(key string, value Item) bool {
	ok, _ := p.PutErr(key, value)
	return ok
}

func (p *PooledStore) PutIfAbsent(key string, value Item) bool {
	ok, _ := p.PutIfAbsentErr(key, value)
	return ok
}

func (p *PooledStore) Set(key string, value Item) bool {
	ok, _ := p.SetErr(key, value)
	return ok
}

func (p *PooledStore) Delete(key string) bool {
	ok, _ := p.DeleteErr(key)
	return ok
}

func (p *PooledStore) Get(key string) (Item, bool) {
	item, ok, _ := p.GetErr(key)
	return item, ok
}

// PutErr, PutIfAbsentErr, SetErr, DeleteErr and GetErr implement
// Fallible: the error they report is always the pool's own Acquire
// failure, never a translation of an ordinary negative bool result.
func (p *PooledStore) PutErr(key string, value Item) (bool, error) {
	var ok bool
	err := p.withHandle(func(s *MemStore) { ok = s.Put(key, value) })
	return ok, err
}

func (p *PooledStore) PutIfAbsentErr(key string, value Item) (bool, error) {
	var ok bool
	err := p.withHandle(func(s *MemStore) { ok = s.PutIfAbsent(key, value) })
	return ok, err
}

func (p *PooledStore) SetErr(key string, value Item) (bool, error) {
	var ok bool
	err := p.withHandle(func(s *MemStore) { ok = s.Set(key, value) })
	return ok, err
}

func (p *PooledStore) DeleteErr(key string) (bool, error) {
	var ok bool
	err := p.withHandle(func(s *MemStore) { ok = s.Delete(key) })
	return ok, err
}

func (p *PooledStore) GetErr(key string) (Item, bool, error) {
	var item Item
	var found bool
	err := p.withHandle(func(s *MemStore) { item, found = s.Get(key) })
	return item, found, err
}
