package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"seed-order-service/cache"
	"seed-order-service/config"
	"seed-order-service/consumers"
	"seed-order-service/controllers"
	"seed-order-service/database"
	"seed-order-service/logging"
	"seed-order-service/middlewares"
	"seed-order-service/rabbitmq"
	"seed-order-service/repository"
	"seed-order-service/services"
)

func main() {
	cfg := config.LoadConfig()
	log := logging.Init("order-service", cfg.LogFile, cfg.LogLevel)

	// money goes out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Error("database initialization failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Error("database migration failed", "error", err)
			os.Exit(1)
		}
	}
	store := repository.NewMySQLStore(db)

	opts := []services.Option{services.WithLogger(logging.New("orders"))}

	var rmq *rabbitmq.RabbitMQ
	if cfg.RabbitMQEnabled {
		rmq, err = rabbitmq.NewRabbitMQ(cfg, logging.New("rabbitmq"))
		if err != nil {
			log.Error("rabbitmq initialization failed", "error", err)
			os.Exit(1)
		}
		defer rmq.Close()

		if err := rmq.SetupQueues(); err != nil {
			log.Error("failed to setup rabbitmq queues", "error", err)
			os.Exit(1)
		}
		paymentTimeout := cfg.PaymentTimeout
		if !rmq.DelaySupported() {
			paymentTimeout = 0
		}
		opts = append(opts, services.WithEvents(rmq.Publisher(), paymentTimeout))
	}

	orderService := services.NewOrderService(store, opts...)

	if rmq != nil {
		consumer := consumers.NewOrderConsumer(rmq.Channel, cfg, orderService, logging.New("consumer"))
		if err := consumer.Start(ctx); err != nil {
			log.Error("failed to start order consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Wait()
	}

	var idem controllers.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("redis ping failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(log), middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	controllers.RegisterRoutes(r, controllers.NewOrderController(orderService, idem, cfg), cfg.JWTSecret)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("order service starting", "addr", cfg.HTTPAddr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("order service stopped")
}
