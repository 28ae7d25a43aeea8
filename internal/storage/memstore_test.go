package storage

import (
	"fmt"
	"sync"
	"testing"
)

func TestMemStore(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		s := NewMemStore(16)

		if ok := s.Put("k1", Item{Flags: 1, Data: []byte("v1")}); !ok {
			t.Fatalf("Put should always succeed")
		}
		if s.Len() != 1 {
			t.Errorf("Len should be 1, got %d", s.Len())
		}

		item, ok := s.Get("k1")
		if !ok || string(item.Data) != "v1" || item.Flags != 1 {
			t.Errorf("Get returned %+v, %v", item, ok)
		}

		s.Put("k1", Item{Flags: 2, Data: []byte("v2")})
		if s.Len() != 1 {
			t.Errorf("overwriting an existing key should not grow Len, got %d", s.Len())
		}
	})

	t.Run("PutIfAbsent and Set", func(t *testing.T) {
		s := NewMemStore(16)

		if !s.PutIfAbsent("k", Item{Data: []byte("a")}) {
			t.Fatalf("PutIfAbsent should succeed on a new key")
		}
		if s.PutIfAbsent("k", Item{Data: []byte("b")}) {
			t.Fatalf("PutIfAbsent should fail on an existing key")
		}
		item, _ := s.Get("k")
		if string(item.Data) != "a" {
			t.Errorf("PutIfAbsent should not have overwritten, got %q", item.Data)
		}

		if !s.Set("k", Item{Data: []byte("c")}) {
			t.Fatalf("Set should succeed on an existing key")
		}
		if s.Set("missing", Item{Data: []byte("d")}) {
			t.Fatalf("Set should fail on a missing key")
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := NewMemStore(16)
		s.Put("k", Item{Data: []byte("v")})

		if !s.Delete("k") {
			t.Fatalf("Delete should report true for an existing key")
		}
		if s.Delete("k") {
			t.Fatalf("Delete should report false the second time")
		}
		if _, ok := s.Get("k"); ok {
			t.Fatalf("key should be gone after Delete")
		}
	})

	t.Run("concurrent safety", func(t *testing.T) {
		s := NewMemStore(16)
		const numWorkers = 10
		const numOps = 500

		var wg sync.WaitGroup
		wg.Add(numWorkers)
		for w := 0; w < numWorkers; w++ {
			go func(id int) {
				defer wg.Done()
				for i := 0; i < numOps; i++ {
					key := fmt.Sprintf("worker%d-key%d", id, i%10)
					s.Put(key, Item{Data: []byte("v")})
					s.Get(key)
					s.PutIfAbsent(key, Item{Data: []byte("v2")})
					s.Set(key, Item{Data: []byte("v3")})
					s.Delete(key)
				}
			}(w)
		}
		wg.Wait()
	})
}
