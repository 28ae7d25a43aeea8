// Package protocol implements the memcached text protocol: the
// byte-incremental parser and the command types it builds.
package protocol

import (
	"fmt"
	"strconv"

	"gomemcached/internal/storage"
)

// Kind is the tag of the sum type described in the design notes: a
// command is one of seven kinds, dispatched by a plain switch instead
// of a vtable.
type Kind int

const (
	Set Kind = iota
	Add
	Replace
	Append
	Prepend
	Get
	Delete
)

func (k Kind) String() string {
	switch k {
	case Set:
		return "set"
	case Add:
		return "add"
	case Replace:
		return "replace"
	case Append:
		return "append"
	case Prepend:
		return "prepend"
	case Get:
		return "get"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// HasBody reports whether this kind expects a data block on the wire.
func (k Kind) HasBody() bool {
	switch k {
	case Set, Add, Replace, Append, Prepend:
		return true
	default:
		return false
	}
}

// Command is an immutable description of one unit of work. It is
// built once by Parser.Build, executed exactly once, then discarded.
type Command struct {
	Kind Kind

	// Keys holds one key for storage commands and delete, one-or-more
	// for get.
	Keys []string

	Flags   uint32
	Exptime int64
	Bytes   int
	NoReply bool
}

// Execute runs the command against storage, appending the response
// text to out. A genuine backend failure (a Storage implementing
// storage.Fallible reports one — e.g. an open BreakerStore or an
// exhausted PooledStore) is reported in-band as SERVER_ERROR and never
// causes Execute itself to fail. The trailing "\r\n" is NOT part of
// the returned text; the caller (Session/Connection) appends it.
func (c Command) Execute(store storage.Storage, body []byte) string {
	switch c.Kind {
	case Set:
		item := storage.Item{Flags: c.Flags, Data: body}
		if _, err := storage.TryPut(store, c.Keys[0], item); err != nil {
			return "SERVER_ERROR " + err.Error()
		}
		return "STORED"

	case Add:
		item := storage.Item{Flags: c.Flags, Data: body}
		stored, err := storage.TryPutIfAbsent(store, c.Keys[0], item)
		if err != nil {
			return "SERVER_ERROR " + err.Error()
		}
		if stored {
			return "STORED"
		}
		return "NOT_STORED"

	case Replace:
		_, found, err := storage.TryGet(store, c.Keys[0])
		if err != nil {
			return "SERVER_ERROR " + err.Error()
		}
		if !found {
			return "NOT_STORED"
		}
		item := storage.Item{Flags: c.Flags, Data: body}
		stored, err := storage.TrySet(store, c.Keys[0], item)
		if err != nil {
			return "SERVER_ERROR " + err.Error()
		}
		if stored {
			return "STORED"
		}
		return "NOT_STORED"

	case Append:
		return execConcat(store, c.Keys[0], body, false)

	case Prepend:
		return execConcat(store, c.Keys[0], body, true)

	case Delete:
		deleted, err := storage.TryDelete(store, c.Keys[0])
		if err != nil {
			return "SERVER_ERROR " + err.Error()
		}
		if deleted {
			return "DELETED"
		}
		return "NOT_FOUND"

	case Get:
		return execGet(store, c.Keys)

	default:
		return "SERVER_ERROR unknown command kind"
	}
}

func execConcat(store storage.Storage, key string, body []byte, prepend bool) string {
	existing, found, err := storage.TryGet(store, key)
	if err != nil {
		return "SERVER_ERROR " + err.Error()
	}
	if !found {
		return "NOT_STORED"
	}

	var data []byte
	if prepend {
		data = make([]byte, 0, len(body)+len(existing.Data))
		data = append(data, body...)
		data = append(data, existing.Data...)
	} else {
		data = make([]byte, 0, len(existing.Data)+len(body))
		data = append(data, existing.Data...)
		data = append(data, body...)
	}

	item := storage.Item{Flags: existing.Flags, Data: data}
	stored, err := storage.TrySet(store, key, item)
	if err != nil {
		return "SERVER_ERROR " + err.Error()
	}
	if stored {
		return "STORED"
	}
	return "NOT_STORED"
}

func execGet(store storage.Storage, keys []string) string {
	var out []byte
	for _, key := range keys {
		item, ok, err := storage.TryGet(store, key)
		if err != nil {
			return "SERVER_ERROR " + err.Error()
		}
		if !ok {
			continue
		}
		out = append(out, fmt.Sprintf("VALUE %s %d %d\r\n", key, item.Flags, len(item.Data))...)
		out = append(out, item.Data...)
		out = append(out, "\r\n"...)
	}
	out = append(out, "END"...)
	return string(out)
}

// ClientError formats a CLIENT_ERROR response for requests that are
// syntactically recognizable but semantically invalid at a point past
// header parsing (e.g. a data block not terminated by "\r\n"). Parse
// errors on the command line itself are protocol errors (ERROR),
// raised entirely inside the parser.
func ClientError(msg string) string {
	return "CLIENT_ERROR " + msg
}

func parseUint32(field string) (uint32, error) {
	v, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseInt64(field string) (int64, error) {
	return strconv.ParseInt(field, 10, 64)
}

func parseInt(field string) (int, error) {
	return strconv.Atoi(field)
}
