package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/pricebus"
)

// binanceTradeEvent is the payload of the public @trade stream.
type binanceTradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// BinanceStream consumes the public Binance trade WebSocket streams for a
// set of symbols and publishes every trade price as a tick.
type BinanceStream struct {
	baseURL        string
	symbols        []string
	bus            pricebus.Bus
	reconnectDelay time.Duration
}

func NewBinanceStream(config Config, symbols []string, bus pricebus.Bus) *BinanceStream {
	return &BinanceStream{
		baseURL:        config.BinanceWSBaseURL,
		symbols:        symbols,
		bus:            bus,
		reconnectDelay: config.ReconnectDelay,
	}
}

// Run connects and pumps ticks until the context is cancelled,
// reconnecting after connection loss.
func (s *BinanceStream) Run(ctx context.Context) {
	for {
		if err := s.connectAndPump(ctx); err != nil {
			logger.WithError(err).WithField("connector", "binance_ws").
				Warn("stream disconnected, will reconnect")
		}

		select {
		case <-ctx.Done():
			logger.WithField("connector", "binance_ws").Info("stream stopped")
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *BinanceStream) connectAndPump(ctx context.Context) error {
	streams := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@trade")
	}
	endpoint := fmt.Sprintf("%s/%s", s.baseURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	logger.WithFields(map[string]interface{}{
		"connector": "binance_ws",
		"symbols":   s.symbols,
	}).Info("trade stream connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		var event binanceTradeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logger.WithError(err).WithField("connector", "binance_ws").
				Debug("skipping unparsable stream message")
			continue
		}
		if event.EventType != "trade" || event.Price == "" {
			continue
		}

		price, err := decimal.NewFromString(event.Price)
		if err != nil || !price.IsPositive() {
			continue
		}

		s.bus.Publish(pricebus.Tick{
			Symbol: event.Symbol,
			Price:  price,
			At:     time.UnixMilli(event.TradeTime),
		})
	}
}
