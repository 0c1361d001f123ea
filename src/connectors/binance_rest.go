package connectors

import (
	"context"
	"net/http"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
	"papertrader/src/repository"
)

// BinanceTicker fetches spot tickers over the Binance REST API. It backs
// the synchronous market order path, where the engine needs the current
// reference price before settling.
type BinanceTicker struct {
	exchange goex.API
	pairs    *repository.PairRepository
}

func NewBinanceTicker(pairs *repository.PairRepository) *BinanceTicker {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}

	return &BinanceTicker{
		exchange: binance.NewWithConfig(apiConfig),
		pairs:    pairs,
	}
}

// LastPrice returns the last traded price for the symbol.
func (t *BinanceTicker) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair, err := t.pairs.FindBySymbol(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if pair == nil {
		return decimal.Zero, model.ErrUnknownSymbol
	}

	currencyPair := goex.NewCurrencyPair(
		goex.Currency{Symbol: pair.BaseAsset},
		goex.Currency{Symbol: pair.QuoteAsset},
	)

	ticker, err := t.exchange.GetTicker(currencyPair)
	if err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"connector": "binance_rest",
			"symbol":    symbol,
		}).Error("failed to fetch ticker")

		return decimal.Zero, err
	}

	return decimal.NewFromFloat(ticker.Last), nil
}
