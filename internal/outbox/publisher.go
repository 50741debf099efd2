package outbox

import (
	"context"
	"time"

	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	"github.com/eventora/ticketing-core/internal/adapters/rabbit"
	"github.com/eventora/ticketing-core/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher relays NEW outbox rows to RabbitMQ. Delivery is at-least-once;
// consumers dedupe on the message id, which carries the outbox dedupe key.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records, err := p.repo.GetUnpublishedOutbox(ctx, 10)
			if err != nil {
				p.logger.WithError(err).Error("failed to read outbox")
				continue
			}
			for _, rec := range records {
				msg := amqp.Publishing{
					MessageId:   rec.DedupeKey,
					ContentType: "application/json",
					Body:        rec.Payload,
				}
				if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
					p.logger.WithError(err).Error("failed to publish outbox record")
					continue
				}
				if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
					p.logger.WithError(err).Error("failed to mark outbox record published")
				}
				observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
			}
		}
	}
}
