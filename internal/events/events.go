package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Type identifies an event kind.
type Type string

const (
	DecisionMade   Type = "decision.made"
	TradeAdmitted  Type = "trade.admitted"
	TradeRejected  Type = "trade.rejected"
	OrderPlaced    Type = "order.placed"
	OrderFailed    Type = "order.failed"
	OrderFilled    Type = "order.filled"
	OrderCancelled Type = "order.cancelled"
	PositionClosed Type = "position.closed"
)

// Event is a typed notification emitted by the trading core.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Symbol    string         `json:"symbol"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Payload   any            `json:"payload,omitempty"`
}

// New creates an event stamped with a fresh id and the current time.
func New(t Type, symbol, message string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
	}
}

// WithPayload attaches a structured object for sinks that forward whole
// records, such as the websocket feed and the decision mirror.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// Publisher receives events. Publish must not block the caller.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Nop discards events.
var Nop Publisher = PublisherFunc(func(Event) {})

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// LogSink writes events through zerolog.
type LogSink struct {
	Level zerolog.Level
}

func (s LogSink) Publish(e Event) {
	ev := log.WithLevel(s.Level)
	if e.Type == OrderFailed || e.Type == TradeRejected {
		ev = log.WithLevel(maxLevel(s.Level, zerolog.InfoLevel))
	}
	ev.Str("event", string(e.Type)).
		Str("event_id", e.ID).
		Str("symbol", e.Symbol).
		Fields(e.Data).
		Msg(e.Message)
}

func maxLevel(a, b zerolog.Level) zerolog.Level {
	if a > b {
		return a
	}
	return b
}

// Bus delivers events to in-process subscribers over buffered channels.
// Slow subscribers lose events instead of blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	buffer  int
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and must be called once the subscriber is done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
