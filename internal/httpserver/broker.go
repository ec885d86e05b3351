package httpserver

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tphakala/hotword-go/internal/events"
)

const clientBuffer = 64

// client is one connected event stream.
type client struct {
	id   string
	ch   chan events.Event
	done chan struct{}
}

// Broker fans bus events out to connected SSE clients. It is registered as an
// events.Consumer; a client that cannot keep up loses events instead of
// blocking the bus.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	dropped atomic.Uint64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[string]*client)}
}

// Name implements events.Consumer.
func (b *Broker) Name() string { return "sse" }

// ProcessEvent implements events.Consumer.
func (b *Broker) ProcessEvent(e events.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.clients {
		select {
		case c.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// subscribe registers a new client. It returns nil once the broker is closed.
func (b *Broker) subscribe() *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	c := &client{
		id:   uuid.NewString(),
		ch:   make(chan events.Event, clientBuffer),
		done: make(chan struct{}),
	}
	b.clients[c.id] = c
	return c
}

func (b *Broker) unsubscribe(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.done)
	}
}

// Close disconnects all clients and rejects new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, c := range b.clients {
		close(c.done)
		delete(b.clients, id)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns the number of events not delivered to slow clients.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
