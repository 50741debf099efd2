package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	mongoadapter "github.com/eventora/ticketing-core/internal/adapters/mongo"
	"github.com/eventora/ticketing-core/internal/adapters/rabbit"
	"github.com/eventora/ticketing-core/internal/config"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// The notifier follows booking lifecycle events off the exchange and records
// each delivery. Downstream channels (email, push) hang off the same queue
// bindings.

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("ticketing"), logger)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	consumer, err := rabbit.NewConsumer(rabbitConn, "booking-notifications",
		"booking.paid", "booking.expired", "booking.cancelled")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutdown notifier ...")
		cancel()
	}()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}
	logger.Info("notifier started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("notifier exiting")
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Error("delivery channel closed")
				return
			}
			handle(ctx, audit, logger, d)
		}
	}
}

type bookingEvent struct {
	BookingID  uuid.UUID `json:"booking_id"`
	UserID     uuid.UUID `json:"user_id"`
	EventID    uuid.UUID `json:"event_id"`
	Status     string    `json:"status"`
	PaymentRef string    `json:"payment_ref"`
}

func handle(ctx context.Context, audit *mongoadapter.AuditLogger, logger observability.Logger, d amqp.Delivery) {
	var evt bookingEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		logger.WithError(err).WithField("routing_key", d.RoutingKey).Warn("dropping undecodable event")
		d.Nack(false, false)
		return
	}

	err := audit.LogEvent(ctx, "notification."+d.RoutingKey, evt.UserID, map[string]interface{}{
		"booking_id": evt.BookingID,
		"event_id":   evt.EventID,
		"status":     evt.Status,
	})
	if err != nil {
		// Leave the delivery for redelivery; the audit store will recover.
		d.Nack(false, true)
		return
	}

	logger.WithField("booking_id", evt.BookingID.String()).
		WithField("kind", d.RoutingKey).
		Info("notification recorded")
	d.Ack(false)
}
