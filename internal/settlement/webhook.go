package settlement

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/eventora/ticketing-core/internal/domain"
)

// WebhookResult describes how an inbound gateway callback was handled.
// Ignored results still answer 200 so the gateway stops retrying.
type WebhookResult struct {
	Booking *domain.Booking
	Settled bool
	Ignored string // non-empty reason when the callback was a no-op
}

// ProcessWebhook ingests one gateway callback. Everything short of a store
// failure resolves without error: wrong direction, unrecognizable memo,
// unknown booking, expired booking, amount mismatch and lost races are all
// recognized-but-inapplicable cases the gateway must not retry.
func (s *Service) ProcessWebhook(ctx context.Context, raw map[string]interface{}) (*WebhookResult, error) {
	payload := ParseWebhookPayload(raw)

	if !payload.Credit() {
		return &WebhookResult{Ignored: "non-credit transfer"}, nil
	}
	bookingID, ok := ExtractBookingID(payload.Memo)
	if !ok {
		return &WebhookResult{Ignored: "no booking token in memo"}, nil
	}

	res, err := s.TrySettle(ctx, bookingID, payload.Amount, payload.Reference, "webhook")
	switch {
	case err == nil:
		if res.Settled {
			return &WebhookResult{Booking: res.Booking, Settled: true}, nil
		}
		return &WebhookResult{Booking: res.Booking, Ignored: "already settled"}, nil
	case errors.Is(err, domain.ErrNotFound):
		return &WebhookResult{Ignored: "unknown booking"}, nil
	case errors.Is(err, domain.ErrExpired):
		return &WebhookResult{Booking: res.Booking, Ignored: "booking expired"}, nil
	case errors.Is(err, domain.ErrAmountMismatch):
		s.logger.WithField("booking_id", bookingID).Warn("webhook amount does not match booking total")
		return &WebhookResult{Booking: res.Booking, Ignored: "amount mismatch"}, nil
	case errors.Is(err, domain.ErrNotPending):
		return &WebhookResult{Booking: res.Booking, Ignored: "booking not pending"}, nil
	default:
		return nil, err
	}
}
