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

// CatalogRepository reads the event catalog the content subsystem maintains.
// The core only needs existence checks and the seat map for seat-mode
// validation; everything else about an event stays external.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          uuid.UUID `bson:"_id"`
	Name        string    `bson:"name"`
	Venue       string    `bson:"venue"`
	Date        time.Time `bson:"date"`
	SeatMode    bool      `bson:"seat_mode"`
	BasePrice   float64   `bson:"base_price,omitempty"`
	Seats       []SeatDoc `bson:"seats,omitempty"`
	CategoryIDs []string  `bson:"category_ids,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	SeatID     string `bson:"seat_id"`
	Row        string `bson:"row"`
	Section    string `bson:"section"`
	CategoryID string `bson:"category_id"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get event", err)
		return nil, err
	}
	return &event, nil
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.Error("failed to create event", err)
		return err
	}
	return nil
}

// HasSeat reports whether the event's seat map contains the given seat id.
func (e *EventDoc) HasSeat(seatID string) bool {
	for _, s := range e.Seats {
		if s.SeatID == seatID {
			return true
		}
	}
	return false
}
