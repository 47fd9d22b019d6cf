//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is the fallback for platforms without epoll. A goroutine per
// connection reports it ready, then waits for Rearm before reporting it
// again, so only one frame read is in flight per connection.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates a new fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers conn and starts its monitor goroutine.
func (e *Epoll) Add(conn net.Conn) error {
	rearm := make(chan struct{}, 1)
	e.mu.Lock()
	if e.conns == nil {
		e.mu.Unlock()
		return net.ErrClosed
	}
	e.conns[conn] = rearm
	e.mu.Unlock()

	go e.monitor(conn, rearm)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, rearm chan struct{}) {
	for {
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		select {
		case _, ok := <-rearm:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

// Rearm lets the monitor report conn again once the previous read finished.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rearm, ok := e.conns[conn]
	if !ok {
		return
	}
	select {
	case rearm <- struct{}{}:
	default:
	}
}

// Remove unregisters a connection and stops its monitor.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rearm, ok := e.conns[conn]; ok {
		delete(e.conns, conn)
		close(rearm)
	}
	return nil
}

// Wait blocks until at least one connection is ready for reading and returns
// every connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		e.conns = nil
		e.mu.Unlock()
	})
	return nil
}
