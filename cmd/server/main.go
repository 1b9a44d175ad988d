package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/moverspay/internal/admin"
	"github.com/sudo-init-do/moverspay/internal/alerts"
	"github.com/sudo-init-do/moverspay/internal/app"
	"github.com/sudo-init-do/moverspay/internal/callbacks"
	"github.com/sudo-init-do/moverspay/internal/config"
	"github.com/sudo-init-do/moverspay/internal/marketplace"
	mware "github.com/sudo-init-do/moverspay/internal/middleware"
	"github.com/sudo-init-do/moverspay/internal/obs"
	"github.com/sudo-init-do/moverspay/internal/user"
	"github.com/sudo-init-do/moverspay/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e := newRouter(a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.Sweeper.Run(gctx) })
	if a.Processor != nil {
		g.Go(func() error { return a.Processor.Run(gctx) })
	}
	return g.Wait()
}

func newRouter(a *app.App) *echo.Echo {
	cfg := a.Config
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(zapRequestLogger(a.Log.Named("http")))
	e.Use(a.Metrics.Middleware())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "moverspay"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(obs.Handler(a.Registry)))

	market := marketplace.NewHandler(a.Bookings, a.Payments, a.Reviews, a.Escrows)
	wal := wallet.NewHandler(a.Store, a.Payments)
	cb := callbacks.NewHandler(a.Gateway, a.Reconcile, a.Store, a.Log)
	notes := alerts.NewHandler(a.Store)
	adm := admin.NewHandler(a.Store, a.Sweeper)
	profiles := user.NewHandler(a.Store)

	// Gateway webhooks, per-IP rate limited
	hooks := e.Group("/callbacks/mpesa")
	hooks.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.CallbackRateLimit))))
	cb.Register(hooks)

	e.GET("/drivers/:id", profiles.GetDriverProfile)
	e.GET("/drivers/:id/reviews", market.GetDriverReviews)

	// Protected routes
	api := e.Group("")
	api.Use(mware.JWT([]byte(cfg.JWT.Secret)))

	api.GET("/me", profiles.Me)

	api.GET("/wallet/balance", wal.Balance, mware.RequireRoles(mware.RoleUser))
	api.GET("/wallet/transactions", wal.Transactions)
	api.POST("/wallet/deposits", wal.Deposit, mware.RequireRoles(mware.RoleUser))
	api.GET("/driver/earnings", wal.Earnings, mware.RequireRoles(mware.RoleDriver))
	api.POST("/driver/withdrawals", wal.Withdraw, mware.RequireRoles(mware.RoleDriver))
	api.POST("/driver/availability", profiles.SetAvailability, mware.RequireRoles(mware.RoleDriver))
	api.GET("/driver/bookings/pending", market.PendingRequests, mware.RequireRoles(mware.RoleDriver))

	api.POST("/bookings", market.CreateBooking, mware.RequireRoles(mware.RoleUser))
	api.GET("/bookings", market.ListBookings)
	api.GET("/bookings/:id", market.GetBooking)
	api.POST("/bookings/:id/accept", market.AcceptBooking, mware.RequireRoles(mware.RoleDriver))
	api.POST("/bookings/:id/complete", market.CompleteBooking, mware.RequireRoles(mware.RoleDriver))
	api.POST("/bookings/:id/cancel", market.CancelBooking, mware.RequireRoles(mware.RoleUser, mware.RoleDriver))
	api.POST("/bookings/:id/review", market.CreateReview, mware.RequireRoles(mware.RoleUser))

	api.GET("/transactions/:id/status", cb.Status)

	api.GET("/notifications", notes.List)
	api.POST("/notifications/:id/read", notes.MarkRead)

	// Admin routes
	adminGroup := e.Group("/admin")
	adminGroup.Use(mware.JWT([]byte(cfg.JWT.Secret)))
	adminGroup.Use(mware.AdminGuard)

	adminGroup.GET("/escrows", adm.Escrows)
	adminGroup.GET("/transactions", adm.Transactions)
	adminGroup.GET("/bookings", adm.Bookings)
	adminGroup.GET("/stats", adm.Stats)
	adminGroup.POST("/reconcile/sweep", adm.Sweep)
	adminGroup.GET("/transactions/:id/status", cb.Status)

	return e
}

func zapRequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
