// Package reactor implements the ST and MT non-blocking backends from
// spec.md §4.6/§5: a shared listening socket accepted by one or more
// acceptor goroutines, handed round-robin to a fixed set of
// independent epoll-driven worker loops. acceptors == workers == 1
// realizes the single-reactor, level-triggered ST backend; workers > 1
// realizes the N-worker, edge-triggered MT backend.
package reactor

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"gomemcached/internal/connection"
	"gomemcached/internal/storage"
)

// maxEvents bounds a single epoll_wait batch.
const maxEvents = 256

// Reactor owns the listening socket and a fixed set of worker loops.
// Start/Stop/Join give it the same external shape regardless of
// whether it's realized as one ST loop or many MT loops.
type Reactor struct {
	store storage.Storage

	listenFd int
	workers  []*worker
	next     atomic.Uint64 // round-robin cursor over workers

	group    *errgroup.Group
	stopOnce sync.Once
}

// New returns a Reactor that will execute accepted connections'
// commands against store.
func New(store storage.Storage) *Reactor {
	return &Reactor{store: store}
}

// Start binds port, launches acceptors accept loops and workers
// independent epoll worker loops, and returns once the listening
// socket is ready to accept. It does not block for the server's
// lifetime; call Join for that.
func (r *Reactor) Start(port, acceptors, workers int) error {
	if acceptors < 1 || workers < 1 {
		return fmt.Errorf("reactor: acceptors and workers must be >= 1")
	}

	listenFd, err := newListener(port)
	if err != nil {
		return err
	}
	r.listenFd = listenFd

	edgeTriggered := workers > 1
	r.workers = make([]*worker, workers)
	for i := range r.workers {
		w, err := newWorker(r.store, edgeTriggered)
		if err != nil {
			r.closePartialStart(i)
			return fmt.Errorf("reactor: starting worker %d: %w", i, err)
		}
		r.workers[i] = w
	}

	r.group = &errgroup.Group{}
	for _, w := range r.workers {
		w := w
		r.group.Go(func() error {
			return w.run()
		})
	}
	for i := 0; i < acceptors; i++ {
		r.group.Go(r.acceptLoop)
	}

	return nil
}

func (r *Reactor) closePartialStart(started int) {
	for i := 0; i < started; i++ {
		r.workers[i].stop()
	}
	unix.Close(r.listenFd)
}

// acceptLoop accepts connections from the shared listening socket
// until the listener is closed by Stop, handing each new fd to the
// next worker round-robin. The listener is non-blocking and not
// registered with epoll, so a would-block result is retried at once.
// It always returns nil: a closed listener is the normal shutdown
// path, not a reactor failure.
func (r *Reactor) acceptLoop() error {
	for {
		fd, _, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				continue
			case unix.EBADF, unix.EINVAL:
				// Listener was closed by Stop.
				return nil
			default:
				log.Printf("[reactor] accept: %v", err)
				continue
			}
		}

		idx := r.next.Add(1) % uint64(len(r.workers))
		r.workers[idx].admit(fd)
	}
}

// Stop is idempotent: it closes the listening socket (ending the
// acceptor loops) and signals every worker's wakeup fd so each
// epoll_wait returns, its tracked connections are closed, and its loop
// exits.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		unix.Close(r.listenFd)
		for _, w := range r.workers {
			w.stop()
		}
	})
}

// Join blocks until every acceptor and worker goroutine has returned,
// reporting the first non-nil error any of them returned (epoll_wait
// failures aside from EINTR are the only source of these; a normal
// Stop-driven shutdown returns nil).
func (r *Reactor) Join() error {
	return r.group.Wait()
}

// Addr reports the port the listening socket is actually bound to,
// useful when Start was called with port 0 (let the kernel pick).
func (r *Reactor) Addr() (int, error) {
	sa, err := unix.Getsockname(r.listenFd)
	if err != nil {
		return 0, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("reactor: unexpected sockaddr type %T", sa)
	}
	return sa4.Port, nil
}

func newListener(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: listen: %w", err)
	}
	return fd, nil
}

// worker is one independent epoll instance, its registry of live
// connections, and a wakeup eventfd used to break Stop out of
// epoll_wait without a signal.
type worker struct {
	store storage.Storage

	epollFd  int
	wakeupFd int

	edgeTriggered bool

	mu    sync.Mutex
	conns map[int]*connection.Connection

	stopped atomic.Bool
}

func newWorker(store storage.Storage, edgeTriggered bool) (*worker, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakeupFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epollFd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	w := &worker{
		store:         store,
		epollFd:       epollFd,
		wakeupFd:      wakeupFd,
		edgeTriggered: edgeTriggered,
		conns:         make(map[int]*connection.Connection),
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeupFd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, wakeupFd, &event); err != nil {
		unix.Close(epollFd)
		unix.Close(wakeupFd)
		return nil, fmt.Errorf("registering wakeup fd: %w", err)
	}
	return w, nil
}

// admit registers a newly accepted fd with this worker: constructs its
// Connection, starts it, and adds it to epoll with the worker's
// triggering mode.
func (w *worker) admit(fd int) {
	conn := connection.New(fd, w.store)
	if err := conn.Start(); err != nil {
		log.Printf("[reactor] starting connection on fd %d: %v", fd, err)
		conn.Close()
		return
	}

	w.mu.Lock()
	w.conns[fd] = conn
	w.mu.Unlock()

	event := w.epollEvent(conn)
	if err := unix.EpollCtl(w.epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		log.Printf("[reactor] registering fd %d: %v", fd, err)
		w.drop(conn)
	}
}

func (w *worker) epollEvent(conn *connection.Connection) unix.EpollEvent {
	events := conn.Interest()
	if w.edgeTriggered {
		events |= unix.EPOLLET
	}
	return unix.EpollEvent{Events: events, Fd: int32(conn.Fd())}
}

// run is the worker's main loop: epoll_wait, dispatch, repeat, until
// stop() closes every connection and requests exit. A non-nil return
// means epoll_wait itself failed; Reactor.Join propagates it.
func (w *worker) run() error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(w.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == w.wakeupFd {
				w.drainWakeup()
				if w.stopped.Load() {
					w.closeAll()
					unix.Close(w.epollFd)
					unix.Close(w.wakeupFd)
					return nil
				}
				continue
			}
			w.dispatch(ev)
		}
	}
}

func (w *worker) drainWakeup() {
	var buf [8]byte
	unix.Read(w.wakeupFd, buf[:])
}

func (w *worker) dispatch(ev unix.EpollEvent) {
	w.mu.Lock()
	conn, ok := w.conns[int(ev.Fd)]
	w.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case ev.Events&unix.EPOLLERR != 0:
		conn.OnError()
	case ev.Events&unix.EPOLLHUP != 0 && ev.Events&unix.EPOLLIN == 0:
		conn.OnClose()
	default:
		if ev.Events&unix.EPOLLIN != 0 {
			conn.DoRead()
		}
		if conn.IsAlive() && ev.Events&unix.EPOLLOUT != 0 {
			conn.DoWrite()
		}
	}

	if !conn.IsAlive() {
		w.drop(conn)
		return
	}
	w.updateRegistration(conn)
}

// updateRegistration re-arms epoll with the connection's current
// interest mask. It is issued after every dispatch, whether or not the
// mask changed.
func (w *worker) updateRegistration(conn *connection.Connection) {
	event := w.epollEvent(conn)
	unix.EpollCtl(w.epollFd, unix.EPOLL_CTL_MOD, conn.Fd(), &event)
}

// drop deregisters and closes a dead connection exactly once.
func (w *worker) drop(conn *connection.Connection) {
	w.mu.Lock()
	delete(w.conns, conn.Fd())
	w.mu.Unlock()

	unix.EpollCtl(w.epollFd, unix.EPOLL_CTL_DEL, conn.Fd(), nil)
	conn.Close()
}

func (w *worker) closeAll() {
	w.mu.Lock()
	conns := make([]*connection.Connection, 0, len(w.conns))
	for _, c := range w.conns {
		conns = append(conns, c)
	}
	w.conns = make(map[int]*connection.Connection)
	w.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// stop requests the worker's run loop to exit on its next wakeup.
func (w *worker) stop() {
	w.stopped.Store(true)
	var val [8]byte
	val[0] = 1
	unix.Write(w.wakeupFd, val[:])
}
