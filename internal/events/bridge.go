// Package events funnels notifications to the host in the order they were
// raised, on a single delivery context.
package events

import (
	"sync"

	"github.com/katzenpost/core/worker"
	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
)

// Dispatcher runs delivery functions on the host's chosen context. It must
// run them in the order given.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Handler receives notifications.
type Handler func(Notification)

type item struct {
	n    Notification
	done chan struct{}
}

// Bridge is an unbounded FIFO between the orchestration services and the
// host. Post never blocks, so services may post while holding their locks
// and host callbacks may call back into the kit.
type Bridge struct {
	worker.Worker

	log        *logging.Logger
	handler    Handler
	dispatcher Dispatcher
	metrics    domain.Metrics

	mu        sync.Mutex
	queue     []item
	fpPending bool
	closed    bool
	wakeCh    chan struct{}
}

// New starts a bridge delivering to h. A nil dispatcher delivers on the
// bridge's own goroutine.
func New(log *logging.Logger, h Handler, d Dispatcher, m domain.Metrics) *Bridge {
	b := &Bridge{
		log:        log,
		handler:    h,
		dispatcher: d,
		metrics:    m,
		wakeCh:     make(chan struct{}, 1),
	}
	b.Go(b.pump)
	return b
}

// Post queues n for delivery.
func (b *Bridge) Post(n Notification) {
	b.enqueue(item{n: n})
}

// FingerprintListChanged queues a list-changed notification unless one is
// already waiting to be delivered.
func (b *Bridge) FingerprintListChanged() {
	b.mu.Lock()
	if b.fpPending || b.closed {
		b.mu.Unlock()
		return
	}
	b.fpPending = true
	b.queue = append(b.queue, item{n: Notification{Kind: KindFingerprintListChanged}})
	b.mu.Unlock()
	b.wake()
}

// Flush blocks until everything posted before it has been delivered. It
// must not be called from a Handler.
func (b *Bridge) Flush() {
	done := make(chan struct{})
	if !b.enqueue(item{done: done}) {
		return
	}
	select {
	case <-done:
	case <-b.HaltCh():
	}
}

// Close delivers what is queued and stops the bridge.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wake()
	b.Halt()
}

func (b *Bridge) enqueue(it item) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.log.Debugf("dropping %v posted after close", it.n.Kind)
		return false
	}
	b.queue = append(b.queue, it)
	b.mu.Unlock()
	b.wake()
	return true
}

func (b *Bridge) wake() {
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}

func (b *Bridge) next() (item, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return item{}, false, b.closed
	}
	it := b.queue[0]
	b.queue[0] = item{}
	b.queue = b.queue[1:]
	if it.n.Kind == KindFingerprintListChanged {
		b.fpPending = false
	}
	return it, true, false
}

func (b *Bridge) pump() {
	for {
		it, ok, closed := b.next()
		if !ok {
			if closed {
				return
			}
			<-b.wakeCh
			continue
		}
		b.deliver(it)
	}
}

func (b *Bridge) deliver(it item) {
	fn := func() {
		if it.done != nil {
			close(it.done)
			return
		}
		b.handler(it.n)
		if b.metrics != nil {
			b.metrics.NotificationDelivered(it.n.Kind.String())
		}
	}
	if b.dispatcher == nil {
		fn()
		return
	}
	b.dispatcher.Dispatch(fn)
}
