package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/engine"
	"papertrader/src/handler"
	"papertrader/src/ledger"
	"papertrader/src/repository"
	"papertrader/src/trades"
)

// Dependencies are the wired services the HTTP surface exposes.
type Dependencies struct {
	Engine  *engine.Engine
	Ledger  *ledger.Service
	Trades  *trades.Recorder
	Orders  *repository.OrderRepository
	Wallets *repository.WalletRepository
	TradesR *repository.TradeRepository
	Users   *repository.UserRepository
}

// NewRouter builds the full route tree. Separated from StartServer so
// tests can drive it with httptest.
func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck error")
		}
	})
	r.Post("/users", handler.RegisterUserHandler(deps.Users))

	// Market data is public.
	r.Get("/markets/{symbol}/trades", handler.RecentTradesHandler(deps.TradesR))
	r.Get("/markets/{symbol}/stats", handler.MarketStatsHandler(deps.Trades))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Users))

		r.Post("/orders", handler.PlaceOrderHandler(deps.Engine))
		r.Get("/orders", handler.SearchOrdersHandler(deps.Orders))
		r.Get("/orders/{id}", handler.GetOrderHandler(deps.Orders))
		r.Delete("/orders/{id}", handler.CancelOrderHandler(deps.Engine))

		r.Get("/wallets", handler.ListWalletsHandler(deps.Wallets))
		r.Post("/wallets", handler.CreateWalletHandler(deps.Ledger))
		r.Get("/wallets/{currency}", handler.GetWalletHandler(deps.Wallets))
		r.Post("/wallets/{currency}/deposit", handler.DepositHandler(deps.Ledger))
		r.Get("/transactions", handler.ListTransactionsHandler(deps.Wallets))

		r.Get("/trades", handler.UserTradesHandler(deps.Orders, deps.TradesR))
	})

	return r
}

// StartServer serves the API and blocks until SIGINT or SIGTERM.
func StartServer(port string, deps Dependencies) {
	r := NewRouter(deps)

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
