package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pointshop/db"
	"github.com/xenking/pointshop/internal/cache"
	"github.com/xenking/pointshop/internal/domain/auth"
	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
	"github.com/xenking/pointshop/internal/handler"
	"github.com/xenking/pointshop/internal/repository"
	"github.com/xenking/pointshop/internal/seed"
	"github.com/xenking/pointshop/internal/storage/memory"
	"github.com/xenking/pointshop/pkg/health"
	"github.com/xenking/pointshop/pkg/httpmiddleware"
)

const serviceName = "points-api"

// storage is the set of repositories backing the services.
type storage struct {
	products product.Repository
	coupons  coupon.Repository
	orders   order.Repository
	ledger   points.Repository
	settings settings.Repository
	apiKeys  auth.Repository
	tx       order.TxRunner

	// ping is nil for storage without a remote dependency.
	ping  health.Pinger
	close func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	if cfg.Storage == "memory" {
		store := memory.New()
		price, err := decimal.NewFromString(cfg.Seed.PointPrice)
		if err != nil {
			return nil, errors.Wrap(err, "seed point price")
		}
		sum, err := seed.Run(ctx, seed.MemorySink(store), seed.Options{
			Products:   db.Products,
			PointPrice: price,
			AdminKey:   cfg.Seed.AdminKey,
			Pepper:     []byte(cfg.APIKeyPepper),
		})
		if err != nil {
			return nil, errors.Wrap(err, "seed memory storage")
		}
		lg.Warn("Using in-memory storage, data is lost on restart",
			zap.Int("products", sum.Products),
			zap.Int("coupons", sum.Coupons),
			zap.Bool("admin_key", sum.APIKeys > 0),
		)
		return &storage{
			products: store.Products(),
			coupons:  store.Coupons(),
			orders:   store.Orders(),
			ledger:   store.Points(),
			settings: store.Settings(),
			apiKeys:  store.APIKeys(),
			tx:       store,
			close:    func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &storage{
		products: repository.NewProductRepository(pool),
		coupons:  repository.NewCouponRepository(pool),
		orders:   repository.NewOrderRepository(pool),
		ledger:   repository.NewLedgerRepository(pool),
		settings: repository.NewSettingsRepository(pool),
		apiKeys:  repository.NewAPIKeyRepository(pool),
		tx:       repository.NewTxRunner(pool),
		ping:     pool,
		close:    pool.Close,
	}, nil
}

// service is the assembled HTTP stack.
type service struct {
	handler http.Handler
	health  *health.Health
	close   func()
}

// build creates all dependencies and the middleware-wrapped router.
func build(ctx context.Context, lg *zap.Logger, tel httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if rerr != nil {
			closeAll()
		}
	}()

	store, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.close)

	settingsCache, err := cache.New(ctx, cfg.Cache.provider())
	if err != nil {
		return nil, errors.Wrap(err, "create cache")
	}
	closers = append(closers, func() {
		if err := settingsCache.Close(); err != nil {
			lg.Warn("Close cache", zap.Error(err))
		}
	})

	healthSvc := health.New(health.WithLogger(lg.Named("health")))
	if store.ping != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", store.ping))
	}
	if p, ok := settingsCache.(health.Pinger); ok {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", p))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Domain services.
	settingsSvc := settings.NewService(store.settings, settingsCache, cfg.Cache.PointPriceTTL)
	pricing, err := cfg.Pricing.Order()
	if err != nil {
		return nil, errors.Wrap(err, "pricing config")
	}
	orderService, err := order.NewService(order.Deps{
		Products: store.products,
		Coupons:  store.coupons,
		Orders:   store.orders,
		Tx:       store.tx,
		Prices:   settingsSvc,
	}, pricing, order.Options{
		MeterProvider:  tel.MeterProvider(),
		TracerProvider: tel.TracerProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(handler.HandlerConfig{
		ImageBaseURL: cfg.ImageBaseURL,
		APIKeyPepper: []byte(cfg.APIKeyPepper),
	}, handler.Deps{
		Orders:   orderService,
		Ledger:   points.NewLedger(store.ledger),
		Coupons:  coupon.NewRepoEvaluator(store.coupons),
		Settings: settingsSvc,
		Products: store.products,
		APIKeys:  store.apiKeys,
	})

	router := h.Router()
	router.HandleFunc("/livez", healthSvc.LiveEndpoint).Methods(http.MethodGet).Name("livez")
	router.HandleFunc("/readyz", healthSvc.ReadyEndpoint).Methods(http.MethodGet).Name("readyz")
	routeFinder := handler.MakeRouteFinder(router)

	var rateKey func(*http.Request) string
	if cfg.RateLimit.KeyHeader != "" {
		rateKey = httpmiddleware.HeaderKeyFunc(cfg.RateLimit.KeyHeader)
	}

	return &service{
		handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, handler.UserHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: rateKey,
				MaxKeys: cfg.RateLimit.MaxKeys,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, tel),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
		health: healthSvc,
		close:  closeAll,
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("cache", cfg.Cache.Provider),
	)

	svc, err := build(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
