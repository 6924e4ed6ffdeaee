package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/api"
	"github.com/prudhvinik1/edgepresence/internal/config"
	"github.com/prudhvinik1/edgepresence/internal/database"
	"github.com/prudhvinik1/edgepresence/internal/history"
	"github.com/prudhvinik1/edgepresence/internal/identity"
	"github.com/prudhvinik1/edgepresence/internal/lifecycle"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"github.com/prudhvinik1/edgepresence/internal/store"
	"github.com/prudhvinik1/edgepresence/internal/store/memstore"
	"github.com/prudhvinik1/edgepresence/internal/store/redisstore"
	"github.com/prudhvinik1/edgepresence/internal/utils"
)

func main() {
	hashKey := flag.String("hash-debug-key", "", "print the bcrypt hash of a debug key for DEBUG_KEY_HASH and exit")
	issueFor := flag.String("issue-token", "", "print a one-day bearer token for the given identity and exit")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *hashKey != "" {
		hashed, err := utils.HashKey(*hashKey)
		if err != nil {
			log.Fatalf("Failed to hash debug key: %v", err)
		}
		fmt.Println(hashed)
		return
	}

	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.Presence.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	verifier := identity.NewTokenVerifier(cfg.JWTSecret)
	if *issueFor != "" {
		token, err := verifier.Issue(models.Identity{ID: *issueFor}, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Initialize the backing store
	var backing store.Store
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatalf("Failed to create redis client: %v", err)
		}
		defer redisClient.Close()

		rs := redisstore.New(ctx, redisClient, redisstore.Options{
			Prefix:       cfg.RedisPrefix,
			LeaseTTL:     cfg.RedisLeaseTTL,
			PingInterval: cfg.ConnectivityInterval,
			Logger:       log,
		})
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rs.Close(closeCtx); err != nil {
				log.WithError(err).Warn("Failed to close redis store")
			}
		}()
		go rs.RunReaper(runCtx, cfg.ReaperInterval)
		backing = rs
	} else {
		log.Warn("REDIS_URL not set, using in-process store")
		backing = memstore.New()
	}

	// Optional presence history
	var historyReader api.HistoryReader
	if cfg.DatabaseURL != "" {
		postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Fatalf("Failed to create postgres pool: %v", err)
		}
		defer postgresPool.Close()

		repo := repositories.NewPostgresPresenceHistoryRepository(postgresPool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare history table: %v", err)
		}
		recorder := history.NewRecorder(backing, repo, log)
		backing = recorder
		historyReader = recorder
	}

	// Initialize the presence service
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessions := identity.NewProvider()
	app := lifecycle.NewEmitter()
	svc, err := presence.New(presence.Config{
		Store:    backing,
		Identity: sessions,
		App:      app,
		Logger:   log.WithField("component", "presence"),
		Observer: metrics.New(registry),
	}, cfg.PresenceOptions()...)
	if err != nil {
		log.Fatalf("Failed to create presence service: %v", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize presence service: %v", err)
	}
	defer svc.Destroy()
	presence.SetGlobal(svc)
	defer presence.ClearGlobal()

	// Initialize HTTP Server
	router := api.NewRouter(api.Deps{
		Service:      svc,
		Session:      sessions,
		Lifecycle:    app,
		Verifier:     verifier,
		History:      historyReader,
		DebugKeyHash: cfg.DebugKeyHash,
		Metrics:      metrics.Handler(registry),
		Logger:       log,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down server...")
		stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Infof("Starting server on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Info("Server stopped gracefully")
}
