package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

// DefaultBufferSize is the event queue length.
const DefaultBufferSize = 256

// Config configures a Bus.
type Config struct {
	BufferSize int
	// Dedup suppresses repeated status and error events. Nil disables it.
	Dedup  *Deduplicator
	Logger logger.Logger
}

// Bus queues events and delivers them to consumers from a single worker, so
// consumers see events in publish order. Publishing never blocks; events are
// dropped when the queue is full.
type Bus struct {
	eventChan chan Event
	dedup     *Deduplicator
	log       logger.Logger

	mu        sync.Mutex
	consumers []Consumer
	running   atomic.Bool

	received   atomic.Uint64
	suppressed atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	consumErrs atomic.Uint64
}

// NewBus creates a bus. Events are queued until Run starts delivering them.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("events")
	}
	return &Bus{
		eventChan: make(chan Event, cfg.BufferSize),
		dedup:     cfg.Dedup,
		log:       log,
	}
}

// RegisterConsumer adds a consumer. Names must be unique.
func (b *Bus) RegisterConsumer(c Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == c.Name() {
			return errors.Newf("consumer %s already registered", c.Name()).
				Component("events").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	b.consumers = append(b.consumers, c)
	b.log.Debug("Registered event consumer", logger.String("consumer", c.Name()))
	return nil
}

// TryPublish queues event. It returns false when the event was suppressed or dropped.
func (b *Bus) TryPublish(event Event) bool {
	if b == nil {
		return false
	}
	b.received.Add(1)

	if event.Kind != KindResult && !b.dedup.ShouldProcess(&event) {
		b.suppressed.Add(1)
		return false
	}

	select {
	case b.eventChan <- event:
		return true
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.log.Warn("Event queue full, dropping events",
				logger.Uint64("dropped", n),
				logger.String("kind", string(event.Kind)))
		}
		return false
	}
}

// Run delivers events until ctx is done. Events still queued at that point
// are delivered before Run returns.
func (b *Bus) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.Newf("event bus already running").
			Component("events").
			Category(errors.CategoryState).
			Build()
	}
	defer b.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case event := <-b.eventChan:
			b.processEvent(event)
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case event := <-b.eventChan:
			b.processEvent(event)
		default:
			return
		}
	}
}

func (b *Bus) processEvent(event Event) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		b.deliver(c, event)
	}
}

func (b *Bus) deliver(c Consumer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.consumErrs.Add(1)
			b.log.Error("Consumer panicked",
				logger.String("consumer", c.Name()),
				logger.String("panic", fmt.Sprint(r)),
				logger.String("kind", string(event.Kind)))
		}
	}()

	if err := c.ProcessEvent(event); err != nil {
		b.consumErrs.Add(1)
		b.log.Error("Consumer error",
			logger.String("consumer", c.Name()),
			logger.Error(err),
			logger.String("kind", string(event.Kind)))
		return
	}
	b.processed.Add(1)
}

// Stats returns the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		EventsReceived:   b.received.Load(),
		EventsSuppressed: b.suppressed.Load(),
		EventsProcessed:  b.processed.Load(),
		EventsDropped:    b.dropped.Load(),
		ConsumerErrors:   b.consumErrs.Load(),
	}
}
