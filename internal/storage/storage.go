// Package storage defines the capability commands are executed
// against, and a small set of implementations/decorators for it.
package storage

// Item is a stored value: the opaque client-supplied flags and the
// opaque client-supplied bytes. The text protocol is not required to
// be UTF-8, so Data is a raw byte slice.
type Item struct {
	Flags uint32
	Data  []byte
}

// Storage is the external capability Commands are executed against.
// All methods are synchronous from the caller's perspective; an
// implementation shared across connections in the multi-threaded
// backend must be internally safe for concurrent use.
type Storage interface {
	Put(key string, value Item) bool
	PutIfAbsent(key string, value Item) bool
	Set(key string, value Item) bool
	Delete(key string) bool
	Get(key string) (Item, bool)
}

// Fallible is an optional capability: a Storage that can fail for a
// reason other than its own bool/Option outcome — a connection pool
// unable to hand out a handle, a broken link to an external process —
// implements it so that failure can be told apart from an ordinary
// negative result (NOT_STORED on an existing key, NOT_FOUND on a
// missing one, a Get miss). A Storage with no failure mode beyond its
// own semantics, like MemStore, has no reason to implement it.
type Fallible interface {
	PutErr(key string, value Item) (bool, error)
	PutIfAbsentErr(key string, value Item) (bool, error)
	SetErr(key string, value Item) (bool, error)
	DeleteErr(key string) (bool, error)
	GetErr(key string) (Item, bool, error)
}

// TryPut, TryPutIfAbsent, TrySet, TryDelete and TryGet run an
// operation against store: when store also implements Fallible, its
// Err variant is used so a genuine backend failure is reported
// distinctly from an ordinary negative bool result; otherwise the call
// falls back to the plain Storage method and never reports an error.
// Command.Execute and BreakerStore use these instead of calling
// Storage's methods directly so a wrapped backend's failures surface.
func TryPut(store Storage, key string, value Item) (bool, error) {
	if f, ok := store.(Fallible); ok {
		return f.PutErr(key, value)
	}
	return store.Put(key, value), nil
}

func TryPutIfAbsent(store Storage, key string, value Item) (bool, error) {
	if f, ok := store.(Fallible); ok {
		return f.PutIfAbsentErr(key, value)
	}
	return store.PutIfAbsent(key, value), nil
}

func TrySet(store Storage, key string, value Item) (bool, error) {
	if f, ok := store.(Fallible); ok {
		return f.SetErr(key, value)
	}
	return store.Set(key, value), nil
}

func TryDelete(store Storage, key string) (bool, error) {
	if f, ok := store.(Fallible); ok {
		return f.DeleteErr(key)
	}
	return store.Delete(key), nil
}

func TryGet(store Storage, key string) (Item, bool, error) {
	if f, ok := store.(Fallible); ok {
		return f.GetErr(key)
	}
	item, ok := store.Get(key)
	return item, ok, nil
}
