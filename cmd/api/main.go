package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/equipment-reservations/internal/adapters/crdb"
	"github.com/robertarktes/equipment-reservations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/equipment-reservations/internal/adapters/mongo"
	"github.com/robertarktes/equipment-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/equipment-reservations/internal/adapters/redis"
	"github.com/robertarktes/equipment-reservations/internal/config"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	httphandler "github.com/robertarktes/equipment-reservations/internal/http"
	"github.com/robertarktes/equipment-reservations/internal/idempotency"
	"github.com/robertarktes/equipment-reservations/internal/inventory"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"github.com/robertarktes/equipment-reservations/internal/outbox"
	"github.com/robertarktes/equipment-reservations/internal/rateLimit"
	"github.com/robertarktes/equipment-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "erv-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   domain.Store
		history domain.HistoryStore
		events  domain.OutboxStore
		checks  = map[string]func(context.Context) error{}
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		mem := memory.NewStore()
		store, history, events = mem, mem, mem
		logger.Warn("using in-memory store, data is lost on restart")
	case config.StoreCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		store, history = repo, repo
		checks["crdb"] = pool.Ping
	default:
		log.Fatalf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	opts := []reservation.Option{reservation.WithStrictCreditBack(cfg.StrictCreditBack)}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
		mongoDB := mongoClient.Database("erv")
		history = mongoadapter.NewHistoryRepository(mongoDB, logger)
		opts = append(opts, reservation.WithAuditor(mongoadapter.NewAuditLogger(mongoDB, logger)))
	}

	idemp := idempotency.NewIdempotency(nil, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(nil)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		cache := redisadapter.NewCache(redisClient)
		rl = rateLimit.NewRateLimiter(cache)
		checks["redis"] = cache.Ping
	}

	manager := reservation.NewManager(store, history, logger, opts...)
	ledger := inventory.NewLedger(store, logger)
	handlers := httphandler.NewHandlers(manager, ledger, idemp, logger)
	for name, check := range checks {
		handlers.AddReadinessCheck(name, check)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(handlers, logger, rl, cfg.RateLimitPerMin, idemp),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The crdb outbox is drained by cmd/outbox-publisher; the in-memory one only lives here.
	if events != nil && cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		rabbitPub, err := rabbit.NewPublisher(conn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer rabbitPub.Close()
		pub := outbox.NewPublisher(events, rabbitPub, logger, cfg.OutboxInterval, cfg.OutboxBatch)
		g.Go(func() error {
			pub.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	logger.Info("server exiting")
}
