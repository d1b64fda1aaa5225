package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/duynhne/pkg/logger/zerolog"
	"github.com/duynhne/storefront-sync/config"
	database "github.com/duynhne/storefront-sync/internal/core"
	"github.com/duynhne/storefront-sync/internal/core/domain"
	"github.com/duynhne/storefront-sync/internal/core/notify"
	"github.com/duynhne/storefront-sync/internal/core/remote"
	"github.com/duynhne/storefront-sync/internal/core/repository"
	logicv1 "github.com/duynhne/storefront-sync/internal/logic/v1"
	v1 "github.com/duynhne/storefront-sync/internal/web/v1"
	"github.com/duynhne/storefront-sync/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	// Initialize Zerolog with LOG_LEVEL from config
	zerolog.Setup(cfg.Logging.Level)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("port", cfg.Service.Port).
		Str("api", cfg.API.BaseURL).
		Msg("Service starting")

	// Initialize OpenTelemetry tracing
	var tp interface{ Shutdown(context.Context) error }
	if cfg.Tracing.Enabled {
		provider, err := middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			tp = provider
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().
				Str("endpoint", cfg.Profiling.Endpoint).
				Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	} else {
		log.Info().Msg("Profiling disabled (PROFILING_ENABLED=false)")
	}

	// Durable store for tokens and the cart
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open store")
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store opened")

	// One cookie jar for every outgoing call: the refresh cookie set at login
	// must travel with the refresh request.
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create cookie jar")
	}
	httpClient := &http.Client{
		Jar:       jar,
		Timeout:   cfg.GetAPITimeoutDuration(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	// Session
	session := logicv1.NewSessionContext(store)
	if err := session.Restore(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Some sessions could not be restored")
	}

	feed := notify.NewFeed(notify.DefaultCapacity)
	authClient := remote.NewAuthClient(cfg.API.BaseURL, httpClient)
	refresher := logicv1.NewRefresher(authClient, session, feed)

	pipeline, err := logicv1.NewPipeline(cfg.API.BaseURL, httpClient, session, refresher, feed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create request pipeline")
	}
	commerce := remote.NewCommerceClient(pipeline)

	// Cart
	queue := logicv1.NewQueue(cfg.Cart.SyncQueueSize)
	cart := logicv1.NewCartCache(session, store, commerce, queue, feed, cfg.Cart.Currency)
	if err := cart.Restore(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Persisted cart could not be restored, starting empty")
	}

	auth := logicv1.NewAuthService(authClient, session)
	auth.OnLogin(domain.RoleCustomer, cart.OnCustomerLogin)

	if session.Has(domain.RoleCustomer) {
		queue.Submit("cart.load", cart.LoadFromBackend)
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go cart.ReconcileLoop(loopCtx, cfg.GetReconcileIntervalDuration())

	r := gin.Default()

	var isShuttingDown atomic.Bool

	// Tracing middleware
	r.Use(middleware.TracingMiddleware())

	// Logging middleware
	r.Use(middleware.LoggingMiddleware())

	// Prometheus middleware
	r.Use(middleware.PrometheusMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Readiness check
	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	handler := v1.NewHandler(auth, cart, pipeline, commerce, feed)
	handler.RegisterRoutes(r.Group("/api/v1"))

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Service.Port,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting storefront sync service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	isShuttingDown.Store(true)
	drainDelay := cfg.GetReadinessDrainDelayDuration()
	if drainDelay > 0 {
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay started")
		time.Sleep(drainDelay)
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay completed")
	}

	// Shutdown context with configurable timeout
	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")

	// 1. Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		log.Info().Msg("HTTP server shutdown complete")
	}

	// 2. Stop the price loop and flush pending backend syncs
	stopLoop()
	if err := queue.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Sync queue did not drain")
	} else {
		log.Info().Msg("Sync queue drained")
	}

	// 3. Close the store
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Store close error")
	} else {
		log.Info().Msg("Store closed")
	}

	// 4. Shutdown tracer
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown error")
		} else {
			log.Info().Msg("Tracer shutdown complete")
		}
	}

	log.Info().Msg("Graceful shutdown complete")
}

// openStore opens the KVStore selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (domain.KVStore, error) {
	switch cfg.Store.Driver {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return repository.NewRedisStore(client, cfg.Store.KeyPrefix), nil

	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := repository.NewPgxStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		return store, nil

	default:
		return repository.NewMemoryStore(), nil
	}
}
