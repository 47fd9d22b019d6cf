package messaging

import (
	"fmt"
	"strings"
	"sync"
)

// LocalBus is an in-process Bus. Handlers run synchronously on the
// publishing goroutine, in subscription order. Subjects follow NATS
// matching: "*" matches one token and a trailing ">" matches the rest.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]localSub
	order  []string
	closed bool
}

type localSub struct {
	subject string
	handler func(data []byte)
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]localSub)}
}

func (b *LocalBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("local bus: publish %s: bus closed", subject)
	}
	var handlers []func([]byte)
	for _, key := range b.order {
		sub := b.subs[key]
		if subjectMatches(sub.subject, subject) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *LocalBus) Subscribe(key, subject string, handler func(data []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("local bus: subscribe %s: bus closed", subject)
	}
	if _, ok := b.subs[key]; !ok {
		b.order = append(b.order, key)
	}
	b.subs[key] = localSub{subject: subject, handler: handler}
	return nil
}

func (b *LocalBus) Unsubscribe(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[key]; !ok {
		return fmt.Errorf("local bus: no subscription for key %s", key)
	}
	delete(b.subs, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close drops every subscription. Later publishes fail.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]localSub)
	b.order = nil
}

// subjectMatches reports whether subject matches pattern using NATS token
// wildcards.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

var (
	_ Bus = (*LocalBus)(nil)
	_ Bus = (*NATSClient)(nil)
)
