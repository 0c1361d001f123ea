package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceWSBaseURL  string        `envconfig:"BINANCE_WS_BASE_URL" default:"wss://stream.binance.com:9443/ws"`
	CoinGeckoBaseURL  string        `envconfig:"COINGECKO_BASE_URL" default:"https://api.coingecko.com/api/v3"`
	CoinGeckoInterval time.Duration `envconfig:"COINGECKO_POLL_INTERVAL" default:"30s"`
	ReconnectDelay    time.Duration `envconfig:"FEED_RECONNECT_DELAY" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
