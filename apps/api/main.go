package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	loadershandler "github.com/zenGate-Global/loader-registry/domains/loaders/be/handler"
	loadersrepo "github.com/zenGate-Global/loader-registry/domains/loaders/be/repo"
	loadersservice "github.com/zenGate-Global/loader-registry/domains/loaders/be/service"
	platformactor "github.com/zenGate-Global/loader-registry/platform/go/actor"
	platformlogging "github.com/zenGate-Global/loader-registry/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/loader-registry/platform/go/middleware"
	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	BootstrapSchema bool          `env:"BOOTSTRAP_SCHEMA" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "registry-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.BootstrapSchema {
		if err := persistence.BootstrapRegistrySchema(ctx, pool); err != nil {
			logger.Fatal("bootstrap registry schema", zap.Error(err))
		}
		logger.Info("registry schema bootstrapped")
	}

	registryDB := persistence.NewRegistryDB(pool)

	liveStore, err := persistence.NewLoaderVersionStore(registryDB)
	if err != nil {
		logger.Fatal("init loader version store", zap.Error(err))
	}
	archiveStore, err := persistence.NewLoaderArchiveStore(registryDB)
	if err != nil {
		logger.Fatal("init loader archive store", zap.Error(err))
	}

	validator, err := persistence.NewDefinitionValidator(nil)
	if err != nil {
		logger.Fatal("compile definition schema", zap.Error(err))
	}

	loaderRepo := loadersrepo.NewPostgresRepository(registryDB, liveStore, archiveStore)
	loaderService := loadersservice.New(loaderRepo, validator)
	loaderHTTPHandler := loadershandler.New(loaderService, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(platformactor.Middleware)

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	loaderHTTPHandler.RegisterRoutes(rootRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting registry api", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
