package mongo

import (
	"context"
	"time"

	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogBookingCreated(ctx context.Context, b domain.Booking) error {
	data := map[string]interface{}{
		"booking_id": b.ID,
		"event_id":   b.EventID,
		"mode":       b.Mode,
		"quantity":   b.Quantity,
		"total":      b.TotalAmount,
		"expires_at": b.ExpiresAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, "booking.created", b.UserID, data)
}

func (a *AuditLogger) LogSettlement(ctx context.Context, b domain.Booking, source string) error {
	data := map[string]interface{}{
		"booking_id":  b.ID,
		"payment_ref": b.PaymentRef,
		"total":       b.TotalAmount,
		"source":      source,
	}
	return a.LogEvent(ctx, "booking.paid", b.UserID, data)
}
