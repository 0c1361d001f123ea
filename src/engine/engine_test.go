package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"papertrader/src/database"
	"papertrader/src/engine"
	"papertrader/src/ledger"
	"papertrader/src/model"
	"papertrader/src/orders"
	"papertrader/src/repository"
	"papertrader/src/trades"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubPriceSource struct {
	price decimal.Decimal
	err   error
}

func (s *stubPriceSource) LastPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.price, s.err
}

type fixture struct {
	db     *gorm.DB
	eng    *engine.Engine
	ledger *ledger.Service
	orders *orders.Service
	prices *stubPriceSource
	userID uuid.UUID
}

// newFixture wires an engine against an in-memory database with the
// BTCUSDT pair, a user funded with 10000 USDT, a 0.1% fee and slippage
// disabled so settlements are deterministic.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	ctx := context.Background()

	pairs := repository.NewPairRepository().WithDB(db)
	require.NoError(t, pairs.Upsert(ctx, &model.TradingPair{
		Symbol:     "BTCUSDT",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		Active:     true,
	}))

	ledgerSvc := ledger.NewService(db, nil)
	orderSvc := orders.NewService(db, nil)
	prices := &stubPriceSource{price: d("50000")}

	eng := engine.New(
		db,
		ledgerSvc,
		orderSvc,
		trades.NewRecorder(db),
		pairs,
		prices,
		nil,
		engine.Config{FeeRate: "0.001", MaxSlippage: "0"},
	)

	userID := uuid.New()
	_, err = ledgerSvc.CreateWallet(ctx, userID, "USDT", d("10000"))
	require.NoError(t, err)

	return &fixture{
		db:     db,
		eng:    eng,
		ledger: ledgerSvc,
		orders: orderSvc,
		prices: prices,
		userID: userID,
	}
}

func (f *fixture) wallet(t *testing.T, currency string) *model.Wallet {
	t.Helper()
	wallet, err := repository.NewWalletRepository().WithDB(f.db).
		FindByUserAndCurrency(context.Background(), f.userID, currency)
	require.NoError(t, err)
	return wallet
}

func (f *fixture) tradesFor(t *testing.T, symbol string) []model.Trade {
	t.Helper()
	result, err := repository.NewTradeRepository().WithDB(f.db).
		FindRecentBySymbol(context.Background(), symbol, 100)
	require.NoError(t, err)
	return result
}

func limitBuy(userID uuid.UUID, quantity, price string) engine.PlaceOrderParams {
	p := d(price)
	return engine.PlaceOrderParams{
		UserID:    userID,
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeLimit,
		Quantity:  d(quantity),
		Price:     &p,
	}
}

func TestPlaceLimitBuy_LocksNotional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, order.Status)

	wallet := f.wallet(t, "USDT")
	require.True(t, wallet.Balance.Equal(d("10000")))
	require.True(t, wallet.LockedBalance.Equal(d("500")), "locked=%s", wallet.LockedBalance)
	require.True(t, wallet.Available().Equal(d("9500")))
}

func TestTickSettlesEligibleLimitBuy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)

	// A tick above the limit price leaves the order resting.
	f.eng.OnPriceTick(ctx, "BTCUSDT", d("51000"))
	resting, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, resting.Status)

	// At 49000 the buy becomes eligible and settles at the tick price:
	// notional 490, fee 0.49, reservation of 500 released first.
	f.eng.OnPriceTick(ctx, "BTCUSDT", d("49000"))

	filled, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, filled.Status)
	require.True(t, filled.FilledQuantity.Equal(d("0.01")))
	require.NotNil(t, filled.ExecutedAt)

	usdt := f.wallet(t, "USDT")
	require.True(t, usdt.Balance.Equal(d("9509.51")), "balance=%s", usdt.Balance)
	require.True(t, usdt.LockedBalance.IsZero(), "locked=%s", usdt.LockedBalance)

	btc := f.wallet(t, "BTC")
	require.True(t, btc.Balance.Equal(d("0.01")))

	recorded := f.tradesFor(t, "BTCUSDT")
	require.Len(t, recorded, 1)
	require.True(t, recorded[0].Price.Equal(d("49000")))
	require.True(t, recorded[0].Quantity.Equal(d("0.01")))
	require.Equal(t, order.ID, *recorded[0].BuyOrderID)
	require.Nil(t, recorded[0].SellOrderID)
}

func TestSellSettlement_CreditsNetOfFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreateWallet(ctx, f.userID, "BTC", d("1"))
	require.NoError(t, err)

	price := d("50000")
	order, err := f.eng.PlaceOrder(ctx, engine.PlaceOrderParams{
		UserID:    f.userID,
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideSell,
		OrderType: model.OrderTypeLimit,
		Quantity:  d("0.5"),
		Price:     &price,
	})
	require.NoError(t, err)

	btc := f.wallet(t, "BTC")
	require.True(t, btc.LockedBalance.Equal(d("0.5")), "sell reserves the base asset")

	f.eng.OnPriceTick(ctx, "BTCUSDT", d("50000"))

	filled, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, filled.Status)

	// Notional 25000, fee 25, credit 24975 on top of the original 10000.
	usdt := f.wallet(t, "USDT")
	require.True(t, usdt.Balance.Equal(d("34975")), "balance=%s", usdt.Balance)

	btc = f.wallet(t, "BTC")
	require.True(t, btc.Balance.Equal(d("0.5")))
	require.True(t, btc.LockedBalance.IsZero())

	recorded := f.tradesFor(t, "BTCUSDT")
	require.Len(t, recorded, 1)
	require.Equal(t, order.ID, *recorded[0].SellOrderID)
	require.Nil(t, recorded[0].BuyOrderID)
}

func TestPlaceLimitBuy_InsufficientFundsLeavesNoOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 1 BTC at 50000 needs a 50000 USDT reservation; only 10000 funded.
	_, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "1", "50000"))
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	found, err := f.orders.Repository().Search(ctx, repository.OrderSearchOptions{UserID: f.userID})
	require.NoError(t, err)
	require.Empty(t, found, "a refused placement must not create an order")

	wallet := f.wallet(t, "USDT")
	require.True(t, wallet.LockedBalance.IsZero())
	require.True(t, wallet.Balance.Equal(d("10000")))
}

func TestPlaceMarketBuy_SettlesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.prices.price = d("50000")

	order, err := f.eng.PlaceOrder(ctx, engine.PlaceOrderParams{
		UserID:    f.userID,
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  d("0.01"),
	})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, order.Status)

	// Notional 500, fee 0.5. No reservation for market orders.
	usdt := f.wallet(t, "USDT")
	require.True(t, usdt.Balance.Equal(d("9499.5")), "balance=%s", usdt.Balance)
	require.True(t, usdt.LockedBalance.IsZero())

	btc := f.wallet(t, "BTC")
	require.True(t, btc.Balance.Equal(d("0.01")))
}

func TestPlaceMarketBuy_UnfundedLeavesNoOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.prices.price = d("50000")

	_, err := f.eng.PlaceOrder(ctx, engine.PlaceOrderParams{
		UserID:    f.userID,
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  d("1"),
	})
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	found, err := f.orders.Repository().Search(ctx, repository.OrderSearchOptions{UserID: f.userID})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	params := limitBuy(f.userID, "0.01", "50000")
	params.Symbol = "DOGEUSDT"
	_, err := f.eng.PlaceOrder(ctx, params)
	require.ErrorIs(t, err, model.ErrUnknownSymbol)

	params = limitBuy(f.userID, "0", "50000")
	_, err = f.eng.PlaceOrder(ctx, params)
	require.ErrorIs(t, err, model.ErrInvalidQuantity)

	zero := decimal.Zero
	params = limitBuy(f.userID, "0.01", "50000")
	params.Price = &zero
	_, err = f.eng.PlaceOrder(ctx, params)
	require.ErrorIs(t, err, model.ErrInvalidPrice)

	params = limitBuy(f.userID, "0.01", "50000")
	params.Price = nil
	_, err = f.eng.PlaceOrder(ctx, params)
	require.ErrorIs(t, err, model.ErrInvalidPrice)
}

func TestDuplicateTickDelivery_SettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)

	// The same tick delivered repeatedly must produce exactly one trade
	// and one debit.
	for i := 0; i < 5; i++ {
		f.eng.OnPriceTick(ctx, "BTCUSDT", d("49000"))
	}

	require.Len(t, f.tradesFor(t, "BTCUSDT"), 1)

	usdt := f.wallet(t, "USDT")
	require.True(t, usdt.Balance.Equal(d("9509.51")), "balance=%s", usdt.Balance)
	require.True(t, usdt.LockedBalance.IsZero())
}

func TestConcurrentExecute_SingleWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)

	const workers = 10

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.eng.Execute(ctx, order.ID, d("49000"), false)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	require.Len(t, f.tradesFor(t, "BTCUSDT"), 1)

	usdt := f.wallet(t, "USDT")
	require.True(t, usdt.Balance.Equal(d("9509.51")), "balance=%s", usdt.Balance)

	btc := f.wallet(t, "BTC")
	require.True(t, btc.Balance.Equal(d("0.01")))
}

func TestCancelOrder_ReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)

	cancelled, err := f.eng.CancelOrder(ctx, f.userID, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCancelled, cancelled.Status)

	wallet := f.wallet(t, "USDT")
	require.True(t, wallet.LockedBalance.IsZero())
	require.True(t, wallet.Available().Equal(d("10000")))
}

func TestCancelOrder_AfterFillFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)

	f.eng.OnPriceTick(ctx, "BTCUSDT", d("49000"))

	_, err = f.eng.CancelOrder(ctx, f.userID, order.ID)
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)

	// The fill stands untouched.
	filled, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, filled.Status)
}

func TestCancelOrder_ForeignOrderHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.01", "50000"))
	require.NoError(t, err)

	_, err = f.eng.CancelOrder(ctx, uuid.New(), order.ID)
	require.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestOnPriceTick_FailedOrderDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second user whose reservation gets sabotaged out-of-band, so their
	// order's settlement is guaranteed to fail.
	brokeUser := uuid.New()
	_, err := f.ledger.CreateWallet(ctx, brokeUser, "USDT", d("500"))
	require.NoError(t, err)

	first, err := f.eng.PlaceOrder(ctx, limitBuy(brokeUser, "0.01", "50000"))
	require.NoError(t, err)
	second, err := f.eng.PlaceOrder(ctx, limitBuy(f.userID, "0.02", "50000"))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Unlock(ctx, brokeUser, "USDT", d("500")))

	f.eng.OnPriceTick(ctx, "BTCUSDT", d("49000"))

	firstAfter, err := f.orders.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusRejected, firstAfter.Status)

	secondAfter, err := f.orders.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, secondAfter.Status)

	require.Len(t, f.tradesFor(t, "BTCUSDT"), 1)
}
