package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-marketplace/internal/config"
	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/handler"
	"github.com/iliyamo/ticket-marketplace/internal/logging"
	"github.com/iliyamo/ticket-marketplace/internal/middleware"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
	"github.com/iliyamo/ticket-marketplace/internal/router"
	"github.com/iliyamo/ticket-marketplace/internal/service"
	"github.com/iliyamo/ticket-marketplace/internal/telemetry"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		logger.WithError(err).Fatal("init tracer")
	}

	db, err := database.Open(database.Config{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.WithError(err).Fatal("migrate database")
		}
		logger.Info("database schema applied")
	}

	tickets := repository.NewTicketRepo(db)
	customers := repository.NewCustomerRepo(db)
	events := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsQueue, logger)

	svc := service.NewPurchaseService(service.Deps{
		Tx:           database.NewTransactor(db),
		Tickets:      tickets,
		Purchases:    repository.NewPurchaseRepo(db),
		Reservations: repository.NewReservationRepo(db),
		Customers:    customers,
		Gateway:      newGateway(cfg, logger),
		Events:       events,
		Logger:       logger,
	}, service.Options{
		PaymentTimeout: cfg.PaymentTimeout,
		SettleMaxTries: uint(cfg.SettleMaxTries),
	})

	if cfg.HoldSweepInterval > 0 {
		go svc.RunHoldSweeper(ctx, cfg.HoldSweepInterval, cfg.HoldTTL)
	}
	if cfg.ConsumerEnabled {
		go func() {
			err := queue.StartPurchaseConsumer(ctx, cfg.AMQPURL, cfg.EventsQueue, cfg.PurchaseAuditDir, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("purchase consumer stopped")
			}
		}()
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable: rate limiting, caching and idempotent replay disabled")
	} else {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger))

	router.RegisterRoutes(e, db)
	router.RegisterPublic(e, handler.NewTicketHandler(tickets, logger),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterCustomer(e, handler.NewPurchaseHandler(svc, logger), router.CustomerRoutes{
		JWTSecret:   cfg.JWTSecret,
		Customers:   customers,
		RateLimit:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Idempotency: middleware.NewIdempotency(config.LoadIdempotencyConfig(), rdb),
	})

	go func() {
		addr := ":" + cfg.Port
		logger.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.WithError(err).Error("tracer shutdown")
	}
}

func newGateway(cfg config.Config, logger *logrus.Logger) payment.Gateway {
	if cfg.PaymentProvider == "http" {
		return payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.PaymentTimeout)
	}
	logger.Warn("using the sandbox payment gateway")
	return payment.NewSandboxGateway()
}

func requestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := logger.WithContext(c.Request().Context()).WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	})
}
