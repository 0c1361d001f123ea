package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/connectors"
	"papertrader/src/database"
	"papertrader/src/engine"
	"papertrader/src/events"
	"papertrader/src/ledger"
	"papertrader/src/orders"
	"papertrader/src/pricebus"
	"papertrader/src/repository"
	"papertrader/src/server"
	"papertrader/src/trades"
)

var (
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := events.NewDispatcher()
	dispatcher.Subscribe(events.LoggingHandler)

	pairs := repository.NewPairRepository()
	ledgerSvc := ledger.NewService(database.MainDB, dispatcher)
	orderSvc := orders.NewService(database.MainDB, dispatcher)
	recorder := trades.NewRecorder(database.MainDB)
	prices := connectors.NewBinanceTicker(pairs)

	eng := engine.New(
		database.MainDB,
		ledgerSvc,
		orderSvc,
		recorder,
		pairs,
		prices,
		dispatcher,
		engine.GetConfig(),
	)

	bus := pricebus.NewInMemoryBus()

	activePairs, err := pairs.FindActive(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load trading pairs")
	}

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
		if err := eng.Run(ctx, bus); err != nil {
			logger.WithError(err).Error("settlement engine exited")
		}
	}()

	server.StartServer(server.GetConfig().Port, server.Dependencies{
		Engine: eng,
		Ledger: ledgerSvc,
		// Public market data (recent trades, stats) reads the replica.
		Trades:  trades.NewRecorder(database.ReadOnlyDB),
		TradesR: repository.NewTradeRepository().WithDB(database.ReadOnlyDB),
		Orders:  repository.NewOrderRepository(),
		Wallets: repository.NewWalletRepository(),
		Users:   repository.NewUserRepository(),
	})
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
