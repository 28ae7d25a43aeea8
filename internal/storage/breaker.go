package storage

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen is the error TryPut/TryGet/... report while the
// breaker is open, formatted into an in-band SERVER_ERROR response by
// Command.Execute per spec.md §4.2/§7 — no new error kind, just a
// faster failure than waiting for the backend to fail on its own.
var ErrBreakerOpen = errors.New("storage: circuit breaker open")

// BreakerConfig configures the trip/reset policy of a BreakerStore.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// DefaultBreakerConfig matches the policy pior-memcache uses for its
// per-server breakers: trip once at least 3 requests have been seen
// and 60% of them failed.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
	}
}

// BreakerStore wraps a Storage with a circuit breaker: repeated
// genuine backend failures trip it, and further calls fail fast with
// ErrBreakerOpen instead of reaching the backend one at a time.
//
// An ordinary negative result — NOT_STORED on an existing key,
// NOT_FOUND on a missing one, a Get miss — is never counted as a
// failure. The breaker only ever trips on an error reported by next's
// Fallible implementation, if it has one; a plain bool-returning
// Storage like MemStore has no failure mode below its own semantics,
// so wrapping one leaves the breaker permanently closed, which is
// correct: there is nothing there for it to protect against.
type BreakerStore struct {
	next    Storage
	breaker *gobreaker.CircuitBreaker[bool]
}

// NewBreakerStore wraps next with a breaker configured by cfg.
func NewBreakerStore(next Storage, cfg BreakerConfig) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "storage",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
	return &BreakerStore{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[bool](settings),
	}
}

// callFallible runs a TryXxx call against next through the breaker:
// fn's error return (never its bool) drives the breaker's accounting,
// so an ordinary negative result is never a failure.
func (b *BreakerStore) callFallible(fn func() (bool, error)) (bool, error) {
	result, err := b.breaker.Execute(func() (bool, error) {
		ok, fnErr := fn()
		return ok, fnErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, ErrBreakerOpen
		}
		return false, err
	}
	return result, nil
}

func (b *BreakerStore) Put(key string, value Item) bool {
	ok, _ := b.PutErr(key, value)
	return ok
}

func (b *BreakerStore) PutIfAbsent(key string, value Item) bool {
	ok, _ := b.PutIfAbsentErr(key, value)
	return ok
}

func (b *BreakerStore) Set(key string, value Item) bool {
	ok, _ := b.SetErr(key, value)
	return ok
}

func (b *BreakerStore) Delete(key string) bool {
	ok, _ := b.DeleteErr(key)
	return ok
}

// Get bypasses the breaker's pass/fail accounting entirely (a miss is
// a normal outcome, not a backend failure) but still fails fast while
// the breaker is open.
func (b *BreakerStore) Get(key string) (Item, bool) {
	item, ok, _ := b.GetErr(key)
	return item, ok
}

// PutErr, PutIfAbsentErr, SetErr, DeleteErr and GetErr implement
// Fallible: they report a non-nil error only when the breaker is open
// (the call never reached next) or next's own Fallible implementation
// failed — never for an ordinary negative bool result.
func (b *BreakerStore) PutErr(key string, value Item) (bool, error) {
	return b.callFallible(func() (bool, error) { return TryPut(b.next, key, value) })
}

func (b *BreakerStore) PutIfAbsentErr(key string, value Item) (bool, error) {
	return b.callFallible(func() (bool, error) { return TryPutIfAbsent(b.next, key, value) })
}

func (b *BreakerStore) SetErr(key string, value Item) (bool, error) {
	return b.callFallible(func() (bool, error) { return TrySet(b.next, key, value) })
}

func (b *BreakerStore) DeleteErr(key string) (bool, error) {
	return b.callFallible(func() (bool, error) { return TryDelete(b.next, key) })
}

func (b *BreakerStore) GetErr(key string) (Item, bool, error) {
	if b.breaker.State() == gobreaker.StateOpen {
		return Item{}, false, ErrBreakerOpen
	}
	return TryGet(b.next, key)
}
