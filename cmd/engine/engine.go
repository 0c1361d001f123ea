package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/connectors"
	"papertrader/src/database"
	engineSvc "papertrader/src/engine"
	"papertrader/src/events"
	"papertrader/src/ledger"
	"papertrader/src/orders"
	"papertrader/src/pricebus"
	"papertrader/src/repository"
	"papertrader/src/trades"
)

// Runner drives the settlement engine headless, without the HTTP API.
// Useful when the API and the settlement loop are deployed separately.
type Runner struct {
	Log *logrus.Entry
	DB  *gorm.DB
}

func (r *Runner) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := events.NewDispatcher()
	dispatcher.Subscribe(events.LoggingHandler)

	db := r.DB
	if db == nil {
		db = database.MainDB
	}

	pairs := repository.NewPairRepository().WithDB(db)
	ledgerSvc := ledger.NewService(db, dispatcher)
	orderSvc := orders.NewService(db, dispatcher)
	recorder := trades.NewRecorder(db)
	prices := connectors.NewBinanceTicker(pairs)

	eng := engineSvc.New(
		db,
		ledgerSvc,
		orderSvc,
		recorder,
		pairs,
		prices,
		dispatcher,
		engineSvc.GetConfig(),
	)

	bus := pricebus.NewInMemoryBus()

	activePairs, err := pairs.FindActive(ctx)
	if err != nil {
		return err
	}

	r.Log.WithField("pairs", len(activePairs)).Info("settlement runner starting")

	symbols := make([]string, 0, len(activePairs))
	coinIDs := map[string]string{}
	for i := range activePairs {
		symbols = append(symbols, activePairs[i].Symbol)
		if coinID := activePairs[i].CoinGeckoID; coinID != "" {
			coinIDs[coinID] = activePairs[i].Symbol
		}
	}

	feedConfig := connectors.GetConfig()
	if len(symbols) > 0 {
		go connectors.NewBinanceStream(feedConfig, symbols, bus).Run(ctx)
	}
	if len(coinIDs) > 0 {
		go connectors.NewCoinGeckoPoller(feedConfig, coinIDs, bus).Run(ctx)
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	return eng.Run(ctx, bus)
}
