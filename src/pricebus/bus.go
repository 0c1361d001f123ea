package pricebus

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Tick is one externally sourced price update. Feeds may deliver ticks
// at-least-once and in no particular order across symbols.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// Bus is the capability the settlement engine and the feed connectors
// depend on. The in-memory implementation below fans ticks out over
// channels; a message-queue backed implementation can replace it without
// touching either side.
type Bus interface {
	Publish(tick Tick)
	Subscribe(symbol string) (<-chan Tick, func())
	SubscribeAll() (<-chan Tick, func())
}

const subscriberBuffer = 256

type subscriber struct {
	symbol string // empty means all symbols
	ch     chan Tick
}

// InMemoryBus is a channel-based Bus for single-process deployments.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: map[int]*subscriber{}}
}

// Publish delivers the tick to every matching subscriber. Slow consumers
// lose ticks rather than stalling the feed; the engine tolerates gaps
// because the next tick re-evaluates the same open orders.
func (b *InMemoryBus) Publish(tick Tick) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.symbol != "" && sub.symbol != tick.Symbol {
			continue
		}
		select {
		case sub.ch <- tick:
		default:
			logger.WithFields(map[string]interface{}{
				"component": "pricebus",
				"symbol":    tick.Symbol,
			}).Warn("subscriber buffer full, dropping tick")
		}
	}
}

// Subscribe returns a channel of ticks for one symbol and a cancel func.
func (b *InMemoryBus) Subscribe(symbol string) (<-chan Tick, func()) {
	return b.subscribe(symbol)
}

// SubscribeAll returns a channel receiving ticks for every symbol.
func (b *InMemoryBus) SubscribeAll() (<-chan Tick, func()) {
	return b.subscribe("")
}

func (b *InMemoryBus) subscribe(symbol string) (<-chan Tick, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	sub := &subscriber{symbol: symbol, ch: make(chan Tick, subscriberBuffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}

	return sub.ch, cancel
}
