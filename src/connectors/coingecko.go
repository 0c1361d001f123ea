package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/pricebus"
)

// CoinGeckoPoller polls the CoinGecko simple price endpoint for a set of
// coins and publishes the USD(T) quotes as ticks. Used as a slower,
// independent second feed next to the Binance stream; the engine tolerates
// overlapping deliveries.
type CoinGeckoPoller struct {
	http     *resty.Client
	interval time.Duration
	// coinIDs maps a CoinGecko coin id (e.g. "bitcoin") to the tick
	// symbol it feeds (e.g. "BTCUSDT").
	coinIDs map[string]string
	bus     pricebus.Bus
}

func NewCoinGeckoPoller(config Config, coinIDs map[string]string, bus pricebus.Bus) *CoinGeckoPoller {
	client := resty.New().
		SetBaseURL(config.CoinGeckoBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second)

	return &CoinGeckoPoller{
		http:     client,
		interval: config.CoinGeckoInterval,
		coinIDs:  coinIDs,
		bus:      bus,
	}
}

// Run polls until the context is cancelled.
func (p *CoinGeckoPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"connector": "coingecko",
		"coins":     len(p.coinIDs),
		"interval":  p.interval,
	}).Info("price poller started")

	for {
		select {
		case <-ctx.Done():
			logger.WithField("connector", "coingecko").Info("price poller stopped")
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				logger.WithError(err).WithField("connector", "coingecko").
					Warn("price poll failed")
			}
		}
	}
}

func (p *CoinGeckoPoller) poll(ctx context.Context) error {
	ids := make([]string, 0, len(p.coinIDs))
	for id := range p.coinIDs {
		ids = append(ids, id)
	}

	var payload map[string]map[string]float64

	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&payload).
		Get("/simple/price")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("coingecko returned status %d", resp.StatusCode())
	}

	now := time.Now()
	for coinID, quotes := range payload {
		symbol, ok := p.coinIDs[coinID]
		if !ok {
			continue
		}
		usd, ok := quotes["usd"]
		if !ok || usd <= 0 {
			continue
		}

		p.bus.Publish(pricebus.Tick{
			Symbol: symbol,
			Price:  decimal.NewFromFloat(usd),
			At:     now,
		})
	}

	return nil
}
