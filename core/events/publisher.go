package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType classifies job lifecycle events
type EventType string

const (
	TypeStatus   EventType = "status"
	TypeProgress EventType = "progress"
	TypeFinal    EventType = "final"
)

// Event is one job lifecycle notification pushed to subscribers.
type Event struct {
	JobID   string                 `json:"job_id"`
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	At      time.Time              `json:"at"`
}

// Publisher fans job events out to subscribers. Events are delivered
// in publish order; a subscriber that cannot keep up has events
// dropped rather than blocking the publishing job.
type Publisher struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	buffer  int
	dropped atomic.Int64
	closed  bool
	logger  *zap.Logger
}

// NewPublisher creates a publisher with the given per-subscriber
// buffer size.
func NewPublisher(buffer int, logger *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Publisher{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger.Named("events"),
	}
}

// Subscribe registers a new subscriber. The returned cancel func
// unregisters it and closes its channel.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Event, p.buffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (p *Publisher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, ch := range p.subs {
		select {
		case ch <- e:
		default:
			p.dropped.Add(1)
			p.logger.Debug("subscriber buffer full, dropping event",
				zap.String("job_id", e.JobID), zap.String("type", string(e.Type)))
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close shuts the publisher down and closes all subscriber channels.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
