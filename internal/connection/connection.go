// Package connection implements the non-blocking Connection state
// machine from spec.md §4.3–§4.5: a fixed-size read buffer driving a
// session.Session, an output queue drained with vectored writes, and
// the New/Active/Draining/Dead lifecycle. It is shared by the ST and
// MT reactor backends (internal/reactor); the only difference between
// them is whether the Reactor registers a Connection's fd
// edge-triggered or level-triggered, and how many goroutines may call
// into one Connection concurrently.
package connection

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"gomemcached/internal/session"
	"gomemcached/internal/storage"
)

// readBufSize matches the original implementation's fixed 4096-byte
// read buffer. Body bytes are handed to the session as they arrive, so
// only a command header line must fit within one buffer's worth of
// unconsumed bytes.
const readBufSize = 4096

// State is a Connection's position in the four-state lifecycle from
// spec.md §4.5.
type State int

const (
	StateNew State = iota
	StateActive
	StateDraining
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Connection owns one accepted client file descriptor exclusively: it
// is the only code that ever reads, writes, or closes fd. A mutex
// guards the buffer/queue/state fields that DoRead, DoWrite and the
// Reactor's hangup/error dispatch can all touch; alive is additionally
// exposed as a lock-free atomic so the MT backend's worker loop can
// check liveness without contending the mutex on every iteration.
type Connection struct {
	fd int

	mu       sync.Mutex
	state    State
	interest uint32 // unix.EPOLLIN / unix.EPOLLOUT bits currently wanted

	readBuf    [readBufSize]byte
	readFilled int

	outQueue    [][]byte
	headWritten int

	sess *session.Session

	alive     atomic.Bool
	closeOnce sync.Once
}

// New wraps fd (already accepted; Start makes it non-blocking if it is
// not already) in a Connection that will execute commands against store.
func New(fd int, store storage.Storage) *Connection {
	return &Connection{
		fd:    fd,
		state: StateNew,
		sess:  session.New(store),
	}
}

// Fd returns the raw file descriptor, for Reactor registration.
func (c *Connection) Fd() int { return c.fd }

// IsAlive reports whether the connection has not yet reached Dead.
// Safe to call from any goroutine without holding a lock.
func (c *Connection) IsAlive() bool { return c.alive.Load() }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interest returns the epoll event bits (EPOLLIN/EPOLLOUT) the
// Connection currently wants. The Reactor calls this after DoRead and
// DoWrite to build the registration update it issues after each dispatch.
func (c *Connection) Interest() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interest
}

// Start moves a New connection into Active, set non-blocking, wanting
// only readable events.
func (c *Connection) Start() error {
	if err := unix.SetNonblock(c.fd, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = StateActive
	c.interest = unix.EPOLLIN
	c.mu.Unlock()
	c.alive.Store(true)
	return nil
}

// OnError is called by the Reactor when epoll reports EPOLLERR for
// this fd. The connection is unrecoverable; no further drain is
// attempted.
func (c *Connection) OnError() {
	c.mu.Lock()
	c.setDeadLocked()
	c.mu.Unlock()
}

// OnClose is called by the Reactor when epoll reports EPOLLHUP.
func (c *Connection) OnClose() {
	c.mu.Lock()
	c.setDeadLocked()
	c.mu.Unlock()
}

// Close releases the file descriptor. Idempotent: only the first call
// actually closes fd, matching the close-once invariant from spec.md
// §4 (every registered Connection's fd is closed exactly once, after
// deregistration).
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() { err = unix.Close(c.fd) })
	return err
}

func (c *Connection) setDeadLocked() {
	c.state = StateDead
	c.alive.Store(false)
}

// DoRead drains the socket until EAGAIN, a half-close, or an
// unrecoverable error, feeding whatever bytes arrive through the
// session and enqueuing any produced response frames. It never blocks.
func (c *Connection) DoRead() {
	for {
		c.mu.Lock()
		if c.readFilled == len(c.readBuf) {
			// Buffer is saturated without a complete command header
			// having been recognized (body bytes are always consumed
			// by the session): a header line longer than the buffer
			// never completes, and DoRead returns without reading.
			c.mu.Unlock()
			return
		}
		dst := c.readBuf[c.readFilled:]
		c.mu.Unlock()

		n, err := unix.Read(c.fd, dst)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			c.mu.Lock()
			c.setDeadLocked()
			c.mu.Unlock()
			return
		}
		if n == 0 {
			c.onPeerClose()
			return
		}

		if c.processRead(n) {
			return
		}
	}
}

// processRead feeds the newly-read n bytes through the session,
// left-shifts the read buffer by however much was consumed, and
// enqueues any produced frames. It returns true if the caller should
// stop reading (a protocol error ended the connection).
func (c *Connection) processRead(n int) (stop bool) {
	c.mu.Lock()
	c.readFilled += n
	consumed, frames, fatal := c.sess.Feed(c.readBuf[:c.readFilled])
	if consumed > 0 {
		copy(c.readBuf[:], c.readBuf[consumed:c.readFilled])
		c.readFilled -= consumed
	}
	c.mu.Unlock()

	for _, frame := range frames {
		c.enqueue(frame)
	}

	if fatal {
		c.mu.Lock()
		c.transitionOnEndOfReadingLocked()
		c.mu.Unlock()
		return true
	}
	return false
}

// transitionOnEndOfReadingLocked implements the Active→Draining/Dead
// rule from spec.md §4.5 for both a protocol error and a peer
// half-close: if output is still queued, drop to Draining (clear
// readable interest, keep writable) so the queued frames can flush;
// otherwise there is nothing left to do and the connection is Dead
// immediately. Caller must hold mu.
func (c *Connection) transitionOnEndOfReadingLocked() {
	if len(c.outQueue) > 0 {
		c.state = StateDraining
		c.interest &^= uint32(unix.EPOLLIN)
		return
	}
	c.setDeadLocked()
}

func (c *Connection) onPeerClose() {
	c.mu.Lock()
	c.transitionOnEndOfReadingLocked()
	c.mu.Unlock()
}

// enqueue appends a response frame to the output queue, arming
// writable interest if the queue was previously empty.
func (c *Connection) enqueue(frame string) {
	if frame == "" {
		return
	}
	c.mu.Lock()
	if len(c.outQueue) == 0 {
		c.interest |= uint32(unix.EPOLLOUT)
	}
	c.outQueue = append(c.outQueue, []byte(frame))
	c.mu.Unlock()
}

// DoWrite flushes as much of the output queue as the socket will
// currently accept, resuming from headWritten on a prior partial
// write. It never blocks.
func (c *Connection) DoWrite() {
	for {
		c.mu.Lock()
		if len(c.outQueue) == 0 {
			c.mu.Unlock()
			return
		}
		iov := buildIovec(c.outQueue, c.headWritten)
		c.mu.Unlock()

		n, err := unix.Writev(c.fd, iov)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			c.mu.Lock()
			c.setDeadLocked()
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		c.advanceQueueLocked(n)
		empty := len(c.outQueue) == 0
		if empty {
			c.interest &^= uint32(unix.EPOLLOUT)
			if c.state == StateDraining {
				c.setDeadLocked()
			}
		}
		c.mu.Unlock()

		if empty {
			return
		}
	}
}

// advanceQueueLocked removes fully-written frames from the front of
// the output queue and records a partial write against the new head
// via headWritten. Caller must hold mu.
func (c *Connection) advanceQueueLocked(written int) {
	for written > 0 && len(c.outQueue) > 0 {
		head := c.outQueue[0]
		remaining := len(head) - c.headWritten
		if written < remaining {
			c.headWritten += written
			return
		}
		written -= remaining
		c.headWritten = 0
		c.outQueue = c.outQueue[1:]
	}
}

// buildIovec builds a fresh iovec slice on every call: unlike the
// original implementation's stack-allocated array sized by the live
// queue length, Go has no variable-length array, so the slice is
// simply allocated from the heap. The first entry is spliced at
// headWritten to resume a partial write.
func buildIovec(queue [][]byte, headWritten int) [][]byte {
	iov := make([][]byte, 0, len(queue))
	for i, frame := range queue {
		data := frame
		if i == 0 {
			data = frame[headWritten:]
		}
		if len(data) == 0 {
			continue
		}
		iov = append(iov, data)
	}
	return iov
}
