package monitor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"exitwatch/internal/models"
)

// EventType identifies a lifecycle notification from the engine.
type EventType string

const (
	EventPositionAdded      EventType = "position_added"
	EventPositionExited     EventType = "position_exited"
	EventPositionExitFailed EventType = "position_exit_failed"
)

// Event is a lifecycle notification. Price and ProfitLoss are set only on
// exit events.
type Event struct {
	Type        EventType       `json:"type"`
	TradeID     string          `json:"trade_id"`
	TokenSymbol string          `json:"token_symbol"`
	Side        models.Side     `json:"side"`
	ExitKind    models.ExitKind `json:"exit_kind,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ProfitLoss  decimal.Decimal `json:"profit_loss"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// defaultSubscriberBuffer is the per-subscriber channel depth.
const defaultSubscriberBuffer = 64

// Bus fans engine events out to subscribers over buffered channels. A slow
// subscriber never blocks the engine: when a buffer is full the oldest
// pending event is dropped to make room for the newest.
type Bus struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped int64
	logger  *logrus.Logger
	closed  bool
}

// NewBus creates a bus with the given per-subscriber buffer depth.
func NewBus(buffer int, logger *logrus.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new listener and returns its channel plus a cancel
// function. The channel is closed by cancel or by Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. Buffers
// that are full shed their oldest event.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
				b.dropped++
			default:
			}
			select {
			case ch <- ev:
			default:
				b.dropped++
			}
		}
	}
}

// Dropped returns the number of events shed due to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes all subscriber channels. Further publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Event]struct{})
}
