package pricebus_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papertrader/src/pricebus"
)

func tick(symbol, price string) pricebus.Tick {
	return pricebus.Tick{
		Symbol: symbol,
		Price:  decimal.RequireFromString(price),
		At:     time.Now(),
	}
}

func TestSubscribe_FiltersBySymbol(t *testing.T) {
	bus := pricebus.NewInMemoryBus()

	btc, cancelBTC := bus.Subscribe("BTCUSDT")
	defer cancelBTC()
	all, cancelAll := bus.SubscribeAll()
	defer cancelAll()

	bus.Publish(tick("BTCUSDT", "50000"))
	bus.Publish(tick("ETHUSDT", "3000"))

	require.Len(t, btc, 1)
	require.Len(t, all, 2)

	got := <-btc
	require.Equal(t, "BTCUSDT", got.Symbol)
	require.True(t, got.Price.Equal(decimal.RequireFromString("50000")))
}

func TestCancel_StopsDeliveryAndClosesChannel(t *testing.T) {
	bus := pricebus.NewInMemoryBus()

	ticks, cancel := bus.Subscribe("BTCUSDT")
	cancel()
	// Cancelling twice is safe.
	cancel()

	bus.Publish(tick("BTCUSDT", "50000"))

	_, open := <-ticks
	require.False(t, open)
}

func TestPublish_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := pricebus.NewInMemoryBus()

	ticks, cancel := bus.Subscribe("BTCUSDT")
	defer cancel()

	// Overrun the buffer; Publish must never block the feed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			bus.Publish(tick("BTCUSDT", "50000"))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Len(t, ticks, 256)
}
