package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/events"
	"papertrader/src/ledger"
	"papertrader/src/model"
	"papertrader/src/orders"
	"papertrader/src/pricebus"
	"papertrader/src/repository"
	"papertrader/src/trades"
)

const (
	orderLockStripes = 64
	decimalPlaces    = 8
)

// PriceSource supplies the current reference price for a symbol. Used on
// the synchronous market order path; limit orders react to bus ticks
// instead.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Engine converts (symbol, price) events into settled orders: it selects
// eligible open orders on each tick and turns every match into a wallet
// debit/credit pair plus an immutable trade record, atomically per order.
type Engine struct {
	db     *gorm.DB
	ledger *ledger.Service
	orders *orders.Service
	trades *trades.Recorder
	pairs  *repository.PairRepository
	prices PriceSource
	events *events.Dispatcher

	feeRate     decimal.Decimal
	maxSlippage decimal.Decimal

	randMu sync.Mutex
	rand   *rand.Rand

	// orderLocks serializes settlement and cancellation per order, so
	// duplicate tick delivery and cancel/fill races resolve locally.
	orderLocks [orderLockStripes]sync.Mutex
}

func New(
	db *gorm.DB,
	ledgerSvc *ledger.Service,
	orderSvc *orders.Service,
	recorder *trades.Recorder,
	pairs *repository.PairRepository,
	prices PriceSource,
	dispatcher *events.Dispatcher,
	config Config,
) *Engine {

	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}

	return &Engine{
		db:          db,
		ledger:      ledgerSvc,
		orders:      orderSvc,
		trades:      recorder,
		pairs:       pairs,
		prices:      prices,
		events:      dispatcher,
		feeRate:     config.FeeRateDecimal(),
		maxSlippage: config.MaxSlippageDecimal(),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) lockForOrder(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return &e.orderLocks[h.Sum32()%orderLockStripes]
}

// Run consumes ticks from the bus until the context is cancelled.
func (e *Engine) Run(ctx context.Context, bus pricebus.Bus) error {
	ticks, cancel := bus.SubscribeAll()
	defer cancel()

	logger.WithField("component", "engine").Info("settlement engine started")

	for {
		select {
		case <-ctx.Done():
			logger.WithField("component", "engine").Info("settlement engine stopped")
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			e.OnPriceTick(ctx, tick.Symbol, tick.Price)
		}
	}
}

// OnPriceTick settles every open limit order for the symbol that the new
// reference price makes eligible. Orders are evaluated oldest first, each
// one independently: a failure settling one order never blocks its
// siblings within the same tick.
func (e *Engine) OnPriceTick(ctx context.Context, symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		logger.WithFields(map[string]interface{}{
			"component": "engine",
			"symbol":    symbol,
			"price":     price,
		}).Warn("ignoring non-positive price tick")
		return
	}

	open, err := e.orders.Repository().FindOpenBySymbol(ctx, symbol)
	if err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"component": "engine",
			"symbol":    symbol,
		}).Error("failed to scan open orders for tick")
		return
	}

	for i := range open {
		order := open[i]

		if order.OrderType != model.OrderTypeLimit || order.Price == nil {
			continue
		}

		eligible := (order.Side == model.OrderSideBuy && order.Price.GreaterThanOrEqual(price)) ||
			(order.Side == model.OrderSideSell && order.Price.LessThanOrEqual(price))
		if !eligible {
			continue
		}

		if _, err := e.Execute(ctx, order.ID, price, false); err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"component": "engine",
				"order_id":  order.ID,
				"symbol":    symbol,
				"price":     price,
			}).Error("settlement failed for order, continuing with siblings")
		}
	}
}

// PlaceOrderParams is the inbound placement contract.
type PlaceOrderParams struct {
	UserID    uuid.UUID
	Symbol    string
	Side      string
	OrderType string
	Quantity  decimal.Decimal
	Price     *decimal.Decimal
}

// PlaceOrder validates, reserves and persists a new order. Limit orders
// lock their notional (buy, quote currency) or quantity (sell, base
// asset) and rest OPEN until a tick fills them. Market orders fetch the
// reference price first, reserve nothing and settle synchronously; the
// settlement debit is the sole funds check at execution time.
func (e *Engine) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*model.Order, error) {
	pair, err := e.pairs.FindBySymbol(ctx, params.Symbol)
	if err != nil {
		return nil, err
	}
	if pair == nil || !pair.Active {
		return nil, model.ErrUnknownSymbol
	}

	if params.Side != model.OrderSideBuy && params.Side != model.OrderSideSell {
		return nil, fmt.Errorf("unsupported order side %q", params.Side)
	}
	if params.OrderType != model.OrderTypeMarket && params.OrderType != model.OrderTypeLimit {
		return nil, fmt.Errorf("unsupported order type %q", params.OrderType)
	}
	if !params.Quantity.IsPositive() {
		return nil, model.ErrInvalidQuantity
	}

	if params.OrderType == model.OrderTypeLimit {
		if params.Price == nil || !params.Price.IsPositive() {
			return nil, model.ErrInvalidPrice
		}
		return e.placeLimitOrder(ctx, params, pair)
	}

	return e.placeMarketOrder(ctx, params, pair)
}

func (e *Engine) placeLimitOrder(
	ctx context.Context,
	params PlaceOrderParams,
	pair *model.TradingPair,
) (*model.Order, error) {

	// Reserve before the order exists: a failed lock must leave nothing
	// behind (no order row, no reservation).
	reserveCurrency, reserveAmount := limitReservation(params.Side, pair, params.Quantity, *params.Price)
	if err := e.ledger.Lock(ctx, params.UserID, reserveCurrency, reserveAmount); err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Symbol:    params.Symbol,
		Side:      params.Side,
		OrderType: model.OrderTypeLimit,
		Price:     params.Price,
		Quantity:  params.Quantity,
	}

	if err := e.orders.Create(ctx, order); err != nil {
		// Compensate the reservation; the order never came into being.
		if unlockErr := e.ledger.Unlock(ctx, params.UserID, reserveCurrency, reserveAmount); unlockErr != nil {
			logger.WithError(unlockErr).WithFields(map[string]interface{}{
				"component": "engine",
				"user_id":   params.UserID,
				"currency":  reserveCurrency,
			}).Error("failed to release reservation after order create failure")
		}
		return nil, err
	}

	if err := e.orders.Transition(ctx, order, model.OrderStatusOpen); err != nil {
		return nil, err
	}

	return order, nil
}

func (e *Engine) placeMarketOrder(
	ctx context.Context,
	params PlaceOrderParams,
	pair *model.TradingPair,
) (*model.Order, error) {

	// Fetch the reference price before touching any wallet lock; no
	// network I/O happens inside a ledger critical section.
	referencePrice, err := e.prices.LastPrice(ctx, params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference price for %s: %w", params.Symbol, err)
	}
	if !referencePrice.IsPositive() {
		return nil, model.ErrInvalidPrice
	}

	// Pre-check funds against the reference price so an obviously
	// unfunded placement creates no order at all. Slippage may still
	// push the real cost above available; then settlement rejects.
	if err := e.precheckMarketFunds(ctx, params, pair, referencePrice); err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Symbol:    params.Symbol,
		Side:      params.Side,
		OrderType: model.OrderTypeMarket,
		Quantity:  params.Quantity,
	}

	if err := e.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	if err := e.orders.Transition(ctx, order, model.OrderStatusOpen); err != nil {
		return nil, err
	}

	if _, err := e.Execute(ctx, order.ID, referencePrice, true); err != nil {
		return e.reloadOrder(ctx, order.ID, err)
	}

	return e.reloadOrder(ctx, order.ID, nil)
}

func (e *Engine) reloadOrder(ctx context.Context, id uuid.UUID, cause error) (*model.Order, error) {
	order, err := e.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, cause
}

func (e *Engine) precheckMarketFunds(
	ctx context.Context,
	params PlaceOrderParams,
	pair *model.TradingPair,
	referencePrice decimal.Decimal,
) error {

	if params.Side == model.OrderSideBuy {
		notional := params.Quantity.Mul(referencePrice).RoundBank(decimalPlaces)
		cost := notional.Add(notional.Mul(e.feeRate).RoundBank(decimalPlaces))

		available, err := e.ledger.Available(ctx, params.UserID, pair.QuoteAsset)
		if err != nil {
			return err
		}
		if available.LessThan(cost) {
			return model.ErrInsufficientFunds
		}
		return nil
	}

	available, err := e.ledger.Available(ctx, params.UserID, pair.BaseAsset)
	if err != nil {
		return err
	}
	if available.LessThan(params.Quantity) {
		return model.ErrInsufficientFunds
	}
	return nil
}

// limitReservation computes what a resting limit order reserves: the quote
// notional for buys, the base quantity for sells. Settlement and
// cancellation recompute the same amount from the immutable order fields,
// so exactly the reserved amount is released later.
func limitReservation(
	side string,
	pair *model.TradingPair,
	quantity decimal.Decimal,
	limitPrice decimal.Decimal,
) (string, decimal.Decimal) {

	if side == model.OrderSideBuy {
		return pair.QuoteAsset, quantity.Mul(limitPrice).RoundBank(decimalPlaces)
	}
	return pair.BaseAsset, quantity
}

// Execute atomically settles one order at the given price. Already
// terminal or already-filled orders are a no-op, not an error, so
// duplicate tick delivery is harmless. On a failed debit the order is
// rejected and no ledger mutation survives.
func (e *Engine) Execute(
	ctx context.Context,
	orderID uuid.UUID,
	basePrice decimal.Decimal,
	isMarket bool,
) (*model.Trade, error) {

	mu := e.lockForOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Re-entrancy guard: only NEW/OPEN orders settle. Anything else has
	// been handled by another trigger already.
	if order.Status != model.OrderStatusNew && order.Status != model.OrderStatusOpen {
		return nil, nil
	}

	pair, err := e.pairs.FindBySymbol(ctx, order.Symbol)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, model.ErrUnknownSymbol
	}

	executionPrice := basePrice
	if isMarket {
		executionPrice = e.applySlippage(basePrice)
	}

	quantity := order.RemainingQuantity()
	notional := quantity.Mul(executionPrice).RoundBank(decimalPlaces)
	fee := notional.Mul(e.feeRate).RoundBank(decimalPlaces)

	logger.WithFields(map[string]interface{}{
		"component": "engine",
		"order_id":  order.ID,
		"symbol":    order.Symbol,
		"side":      order.Side,
		"price":     executionPrice,
		"quantity":  quantity,
		"fee":       fee,
	}).Info("executing order")

	// Release the placement-time reservation first; the debit below is
	// then checked against the freed balance.
	if order.OrderType == model.OrderTypeLimit {
		reserveCurrency, reserveAmount := limitReservation(order.Side, pair, quantity, *order.Price)
		if err := e.ledger.Unlock(ctx, order.UserID, reserveCurrency, reserveAmount); err != nil {
			return nil, e.rejectOrder(ctx, order, fmt.Errorf("failed to release reservation: %w", err))
		}
	}

	debit, credit := settlementDeltas(order, pair, quantity, notional, fee)

	oldStatus := order.Status
	var trade *model.Trade
	now := time.Now()

	err = e.ledger.ApplyDeltaPairWith(ctx, debit, credit, func(tx *gorm.DB) error {
		recorded, recordErr := e.trades.Record(ctx, tx, order, executionPrice, quantity)
		if recordErr != nil {
			return recordErr
		}
		trade = recorded

		return e.orders.Fill(ctx, tx, order, quantity, now)
	})

	if err != nil {
		if errors.Is(err, model.ErrInvalidStateTransition) {
			// Lost the fill compare-and-swap: another writer settled or
			// cancelled the order first. Everything rolled back; no-op.
			return nil, nil
		}
		return nil, e.rejectOrder(ctx, order, err)
	}

	e.events.Publish(events.OrderStatusChanged{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Symbol:    order.Symbol,
		OldStatus: oldStatus,
		NewStatus: order.Status,
	})
	e.events.Publish(events.TradeExecuted{Trade: *trade})

	return trade, nil
}

// rejectOrder transitions a failed order to REJECTED and returns the
// original settlement error.
func (e *Engine) rejectOrder(ctx context.Context, order *model.Order, cause error) error {
	logger.WithError(cause).WithFields(map[string]interface{}{
		"component": "engine",
		"order_id":  order.ID,
	}).Error("settlement failed, rejecting order")

	if err := e.orders.Transition(ctx, order, model.OrderStatusRejected); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).
			Error("failed to reject order after settlement failure")
	}

	return cause
}

// settlementDeltas builds the debit/credit pair of one settlement:
// buy debits quote by notional+fee and credits base by quantity,
// sell debits base by quantity and credits quote by notional-fee.
func settlementDeltas(
	order *model.Order,
	pair *model.TradingPair,
	quantity decimal.Decimal,
	notional decimal.Decimal,
	fee decimal.Decimal,
) (ledger.Delta, ledger.Delta) {

	orderRef := order.ID

	if order.Side == model.OrderSideBuy {
		debit := ledger.Delta{
			UserID:        order.UserID,
			Currency:      pair.QuoteAsset,
			Amount:        notional.Add(fee).Neg(),
			Kind:          model.TransactionTypeTradeBuy,
			Description:   fmt.Sprintf("Buy %s", order.Symbol),
			ReferenceID:   &orderRef,
			ReferenceType: model.ReferenceTypeOrder,
		}
		credit := ledger.Delta{
			UserID:        order.UserID,
			Currency:      pair.BaseAsset,
			Amount:        quantity,
			Kind:          model.TransactionTypeTradeBuy,
			Description:   fmt.Sprintf("Bought %s", order.Symbol),
			ReferenceID:   &orderRef,
			ReferenceType: model.ReferenceTypeOrder,
		}
		return debit, credit
	}

	debit := ledger.Delta{
		UserID:        order.UserID,
		Currency:      pair.BaseAsset,
		Amount:        quantity.Neg(),
		Kind:          model.TransactionTypeTradeSell,
		Description:   fmt.Sprintf("Sell %s", order.Symbol),
		ReferenceID:   &orderRef,
		ReferenceType: model.ReferenceTypeOrder,
	}
	credit := ledger.Delta{
		UserID:        order.UserID,
		Currency:      pair.QuoteAsset,
		Amount:        notional.Sub(fee),
		Kind:          model.TransactionTypeTradeSell,
		Description:   fmt.Sprintf("Sold %s", order.Symbol),
		ReferenceID:   &orderRef,
		ReferenceType: model.ReferenceTypeOrder,
	}
	return debit, credit
}

// CancelOrder cancels a user's resting order and releases exactly the
// reservation made at placement. Racing against an in-flight settlement is
// arbitrated by the status compare-and-swap: whichever transition commits
// first wins.
func (e *Engine) CancelOrder(ctx context.Context, userID uuid.UUID, orderID uuid.UUID) (*model.Order, error) {
	mu := e.lockForOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, model.ErrOrderNotFound
	}

	if err := e.orders.Transition(ctx, order, model.OrderStatusCancelled); err != nil {
		return nil, err
	}

	if order.OrderType == model.OrderTypeLimit && order.Price != nil {
		pair, pairErr := e.pairs.FindBySymbol(ctx, order.Symbol)
		if pairErr != nil {
			return nil, pairErr
		}
		if pair != nil {
			reserveCurrency, reserveAmount := limitReservation(order.Side, pair, order.RemainingQuantity(), *order.Price)
			if unlockErr := e.ledger.Unlock(ctx, order.UserID, reserveCurrency, reserveAmount); unlockErr != nil {
				logger.WithError(unlockErr).WithFields(map[string]interface{}{
					"component": "engine",
					"order_id":  order.ID,
					"currency":  reserveCurrency,
				}).Error("failed to release reservation for cancelled order")
			}
		}
	}

	return order, nil
}

func (e *Engine) applySlippage(price decimal.Decimal) decimal.Decimal {
	if e.maxSlippage.IsZero() {
		return price
	}

	e.randMu.Lock()
	r := e.rand.Float64()
	e.randMu.Unlock()

	// Symmetric perturbation in [-maxSlippage, +maxSlippage].
	factor := decimal.NewFromFloat(r*2 - 1).Mul(e.maxSlippage)
	return price.Mul(decimal.NewFromInt(1).Add(factor)).RoundBank(decimalPlaces)
}
