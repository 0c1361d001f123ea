package seed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/database"
	"papertrader/src/ledger"
	"papertrader/src/model"
	"papertrader/src/repository"
	"papertrader/src/security"
)

const (
	demoUsername = "demo"
	demoPassword = "demo1234"
)

var defaultPairs = []model.TradingPair{
	{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Active: true, CoinGeckoID: "bitcoin"},
	{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Active: true, CoinGeckoID: "ethereum"},
	{Symbol: "SOLUSDT", BaseAsset: "SOL", QuoteAsset: "USDT", Active: true, CoinGeckoID: "solana"},
	{Symbol: "BNBUSDT", BaseAsset: "BNB", QuoteAsset: "USDT", Active: true, CoinGeckoID: "binancecoin"},
}

// Seeder installs the default trading pairs and a funded demo account so a
// fresh deployment is immediately usable.
type Seeder struct {
	Log *logrus.Entry
	DB  *gorm.DB
}

func (s *Seeder) Start() error {
	ctx := context.Background()

	db := s.DB
	if db == nil {
		db = database.MainDB
	}

	pairs := repository.NewPairRepository().WithDB(db)
	for i := range defaultPairs {
		pair := defaultPairs[i]
		if err := pairs.Upsert(ctx, &pair); err != nil {
			return err
		}
		s.Log.WithField("symbol", pair.Symbol).Info("trading pair seeded")
	}

	users := repository.NewUserRepository().WithDB(db)
	demo, err := users.FindByUsername(ctx, demoUsername)
	if err != nil {
		return err
	}
	if demo == nil {
		hashed, hashErr := security.HashPassword(demoPassword)
		if hashErr != nil {
			return hashErr
		}

		demo = &model.User{
			Username:     demoUsername,
			Email:        "demo@example.com",
			PasswordHash: hashed,
		}
		if err := users.Create(ctx, demo); err != nil {
			return err
		}
	}

	ledgerSvc := ledger.NewService(db, nil)
	if _, err := ledgerSvc.CreateWallet(ctx, demo.ID, "USDT", decimal.NewFromInt(10000)); err != nil {
		if errors.Is(err, model.ErrWalletExists) {
			s.Log.Info("demo wallet already funded, skipping")
			return nil
		}
		return err
	}

	s.Log.WithField("user_id", demo.ID).Info("demo account funded")

	return nil
}
