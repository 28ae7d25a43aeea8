package protocol

import (
	"errors"
	"testing"

	"gomemcached/internal/storage"
)

func TestCommandExecuteSetAddReplace(t *testing.T) {
	store := storage.NewMemStore(4)

	set := Command{Kind: Set, Keys: []string{"k"}, Flags: 7}
	if got := set.Execute(store, []byte("v1")); got != "STORED" {
		t.Fatalf("set: got %q", got)
	}

	add := Command{Kind: Add, Keys: []string{"k"}}
	if got := add.Execute(store, []byte("v2")); got != "NOT_STORED" {
		t.Fatalf("add on existing key: got %q", got)
	}

	replaceMissing := Command{Kind: Replace, Keys: []string{"missing"}}
	if got := replaceMissing.Execute(store, []byte("v")); got != "NOT_STORED" {
		t.Fatalf("replace missing key: got %q", got)
	}

	replace := Command{Kind: Replace, Keys: []string{"k"}}
	if got := replace.Execute(store, []byte("v3")); got != "STORED" {
		t.Fatalf("replace: got %q", got)
	}

	item, ok := store.Get("k")
	if !ok || string(item.Data) != "v3" {
		t.Fatalf("store after replace: item=%+v ok=%v", item, ok)
	}
}

func TestCommandExecuteAppendPrepend(t *testing.T) {
	store := storage.NewMemStore(4)
	store.Put("k", storage.Item{Data: []byte("mid")})

	appendMissing := Command{Kind: Append, Keys: []string{"missing"}}
	if got := appendMissing.Execute(store, []byte("x")); got != "NOT_STORED" {
		t.Fatalf("append missing: got %q", got)
	}

	appendCmd := Command{Kind: Append, Keys: []string{"k"}}
	if got := appendCmd.Execute(store, []byte("-end")); got != "STORED" {
		t.Fatalf("append: got %q", got)
	}
	item, _ := store.Get("k")
	if string(item.Data) != "mid-end" {
		t.Fatalf("after append: %q", item.Data)
	}

	prependCmd := Command{Kind: Prepend, Keys: []string{"k"}}
	if got := prependCmd.Execute(store, []byte("start-")); got != "STORED" {
		t.Fatalf("prepend: got %q", got)
	}
	item, _ = store.Get("k")
	if string(item.Data) != "start-mid-end" {
		t.Fatalf("after prepend: %q", item.Data)
	}
}

func TestCommandExecuteGetMultiAndMissing(t *testing.T) {
	store := storage.NewMemStore(4)
	store.Put("a", storage.Item{Flags: 1, Data: []byte("x")})
	store.Put("b", storage.Item{Flags: 2, Data: []byte("yy")})

	get := Command{Kind: Get, Keys: []string{"a", "missing", "b"}}
	got := get.Execute(store, nil)
	want := "VALUE a 1 1\r\nx\r\nVALUE b 2 2\r\nyy\r\nEND"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	emptyGet := Command{Kind: Get, Keys: []string{"nope"}}
	if got := emptyGet.Execute(store, nil); got != "END" {
		t.Fatalf("got %q want END", got)
	}
}

func TestCommandExecuteDelete(t *testing.T) {
	store := storage.NewMemStore(4)
	store.Put("k", storage.Item{Data: []byte("v")})

	del := Command{Kind: Delete, Keys: []string{"k"}}
	if got := del.Execute(store, nil); got != "DELETED" {
		t.Fatalf("got %q", got)
	}
	if got := del.Execute(store, nil); got != "NOT_FOUND" {
		t.Fatalf("second delete: got %q", got)
	}
}

func TestClientError(t *testing.T) {
	if got := ClientError("bad data chunk"); got != "CLIENT_ERROR bad data chunk" {
		t.Fatalf("got %q", got)
	}
}

// failingStore implements storage.Fallible and fails every call,
// so Execute's SERVER_ERROR path (a genuine backend failure, as
// opposed to an ordinary NOT_STORED/NOT_FOUND/miss result) is
// actually exercised rather than left unreachable.
type failingStore struct{}

var errFailingStore = errors.New("backend unavailable")

func (failingStore) Put(string, storage.Item) bool         { return false }
func (failingStore) PutIfAbsent(string, storage.Item) bool { return false }
func (failingStore) Set(string, storage.Item) bool         { return false }
func (failingStore) Delete(string) bool                    { return false }
func (failingStore) Get(string) (storage.Item, bool)       { return storage.Item{}, false }

func (failingStore) PutErr(string, storage.Item) (bool, error) { return false, errFailingStore }
func (failingStore) PutIfAbsentErr(string, storage.Item) (bool, error) {
	return false, errFailingStore
}
func (failingStore) SetErr(string, storage.Item) (bool, error) { return false, errFailingStore }
func (failingStore) DeleteErr(string) (bool, error)             { return false, errFailingStore }
func (failingStore) GetErr(string) (storage.Item, bool, error) {
	return storage.Item{}, false, errFailingStore
}

func TestCommandExecuteSurfacesGenuineBackendFailureAsServerError(t *testing.T) {
	store := failingStore{}
	want := "SERVER_ERROR " + errFailingStore.Error()

	cases := []Command{
		{Kind: Set, Keys: []string{"k"}},
		{Kind: Add, Keys: []string{"k"}},
		{Kind: Replace, Keys: []string{"k"}},
		{Kind: Append, Keys: []string{"k"}},
		{Kind: Prepend, Keys: []string{"k"}},
		{Kind: Delete, Keys: []string{"k"}},
		{Kind: Get, Keys: []string{"k"}},
	}
	for _, cmd := range cases {
		if got := cmd.Execute(store, []byte("v")); got != want {
			t.Errorf("%s: got %q want %q", cmd.Kind, got, want)
		}
	}
}
