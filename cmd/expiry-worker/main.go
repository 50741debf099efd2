package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	mongoadapter "github.com/eventora/ticketing-core/internal/adapters/mongo"
	redisadapter "github.com/eventora/ticketing-core/internal/adapters/redis"
	"github.com/eventora/ticketing-core/internal/booking"
	"github.com/eventora/ticketing-core/internal/config"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sweepBatchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("ticketing")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)

	svc := booking.NewService(repo, catalog, redisCache, audit, logger, cfg.HoldTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutdown expiry worker ...")
		cancel()
	}()

	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("expiry worker exiting")
			return
		case <-ticker.C:
			sweep(ctx, repo, svc, logger)
		}
	}
}

func sweep(ctx context.Context, repo *crdb.Repository, svc *booking.Service, logger observability.Logger) {
	now := time.Now().UTC()
	ids, err := repo.GetOverdueBookings(ctx, repo.Pool(), now, sweepBatchSize)
	if err != nil {
		logger.WithError(err).Error("failed to list overdue bookings")
		return
	}
	if len(ids) == 0 {
		return
	}

	expired := 0
	for _, id := range ids {
		if err := svc.ExpireBooking(ctx, id); err != nil {
			logger.WithError(err).WithField("booking_id", id.String()).Error("failed to expire booking")
			continue
		}
		expired++
	}
	logger.WithField("count", expired).Info("expired overdue bookings")
}
