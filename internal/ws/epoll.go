//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// interest is the event mask of every stream socket. EPOLLONESHOT disarms the
// descriptor after one report so only one worker reads a stream at a time;
// Rearm enables it again.
const interest = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT

// Epoll multiplexes reads of stream sockets over one epoll instance, so idle
// streams cost no goroutine.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	byConn map[net.Conn]int
	events []unix.EpollEvent // reused by Wait; only the event loop calls it
}

// NewEpoll creates the epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		byConn: make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn. The connection must expose its socket through
// syscall.Conn.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return fmt.Errorf("epoll: connection %T exposes no file descriptor", conn)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.byFD == nil {
		return net.ErrClosed
	}
	ev := unix.EpollEvent{Events: interest, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	e.byFD[fd] = conn
	e.byConn[conn] = fd
	return nil
}

// Remove unregisters conn. It must run before conn is closed, while the
// descriptor still belongs to it.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	fd, ok := e.byConn[conn]
	if !ok {
		return nil
	}
	delete(e.byConn, conn)
	delete(e.byFD, fd)
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Rearm re-enables readiness reports for conn after a worker finished with
// it. Removed connections are ignored.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fd, ok := e.byConn[conn]
	if !ok {
		return
	}
	ev := unix.EpollEvent{Events: interest, Fd: int32(fd)}
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Wait blocks until registered connections are readable or hung up.
// Descriptors removed while the call was blocked are dropped from the batch.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if errors.Is(err, unix.EBADF) {
		return nil, net.ErrClosed
	}
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

// Close releases the epoll instance. Wait then fails with net.ErrClosed.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.byFD == nil {
		return nil
	}
	e.byFD, e.byConn = nil, nil
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1
	}
	return fd
}
