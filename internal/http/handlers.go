package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eventora/ticketing-core/internal/booking"
	"github.com/eventora/ticketing-core/internal/config"
	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/eventora/ticketing-core/internal/idempotency"
	"github.com/eventora/ticketing-core/internal/payment"
	"github.com/eventora/ticketing-core/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Reservations is what the handlers need from the reservation service.
type Reservations interface {
	ReserveCategory(ctx context.Context, req booking.CategoryRequest) (*domain.Booking, error)
	ReserveSeats(ctx context.Context, req booking.SeatRequest) (*domain.Booking, error)
	SeatStatus(ctx context.Context, eventID uuid.UUID) (*booking.SeatStatusResult, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
}

// Settlements is what the handlers need from the settlement service.
type Settlements interface {
	TrySettle(ctx context.Context, bookingID uuid.UUID, expectedAmount *float64, paymentRef, source string) (*settlement.Result, error)
	ProcessWebhook(ctx context.Context, raw map[string]interface{}) (*settlement.WebhookResult, error)
}

type Handlers struct {
	cfg          *config.Config
	reservations Reservations
	settlements  Settlements
	idemp        *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, reservations Reservations, settlements Settlements, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{
		cfg:          cfg,
		reservations: reservations,
		settlements:  settlements,
		idemp:        idemp,
	}
}

type bookingResponse struct {
	BookingID   string    `json:"booking_id"`
	EventID     string    `json:"event_id"`
	Mode        string    `json:"mode"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		BookingID:   b.ID.String(),
		EventID:     b.EventID.String(),
		Mode:        string(b.Mode),
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount,
		ExpiresAt:   b.ExpiresAt,
		PaymentRef:  b.PaymentRef,
	}
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrUnauthorized)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		EventID    uuid.UUID `json:"event_id"`
		Mode       string    `json:"mode"`
		CategoryID uuid.UUID `json:"ticket_category_id"`
		Quantity   int       `json:"quantity"`
		Seats      []struct {
			SeatID     string    `json:"seat_id"`
			CategoryID uuid.UUID `json:"ticket_category_id"`
		} `json:"seats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var b *domain.Booking
	switch req.Mode {
	case "seat":
		seats := make([]booking.SeatChoice, len(req.Seats))
		for i, s := range req.Seats {
			seats[i] = booking.SeatChoice{SeatID: s.SeatID, CategoryID: s.CategoryID}
		}
		b, err = h.reservations.ReserveSeats(r.Context(), booking.SeatRequest{
			UserID:  id.UserID,
			EventID: req.EventID,
			Seats:   seats,
		})
	case "category":
		b, err = h.reservations.ReserveCategory(r.Context(), booking.CategoryRequest{
			UserID:     id.UserID,
			EventID:    req.EventID,
			CategoryID: req.CategoryID,
			Quantity:   req.Quantity,
		})
	default:
		http.Error(w, "mode must be category or seat", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := toBookingResponse(b)
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	// The booking is committed and the response already written, so a
	// failed record only weakens replay protection for this key.
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data}); err != nil {
		if logger, ok := LoggerFromContext(r.Context()); ok {
			logger.WithError(err).Warn("idempotency record store failed")
		}
	}
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.reservations.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toBookingResponse(b))
}

func (h *Handlers) SeatStatus(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	status, err := h.reservations.SeatStatus(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrUnauthorized)
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.reservations.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if b.UserID != id.UserID && !id.Admin() {
		h.writeError(w, errors.Wrap(domain.ErrForbidden, "not your booking"))
		return
	}
	cancelled, err := h.reservations.Cancel(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toBookingResponse(cancelled))
}

// AdminSettle is the manual confirmation path for bank-transfer
// reconciliation. No amount guard: the administrator asserts the money
// arrived.
func (h *Handlers) AdminSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrUnauthorized)
		return
	}
	if !id.Admin() {
		h.writeError(w, errors.Wrap(domain.ErrForbidden, "administrator role required"))
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	res, err := h.settlements.TrySettle(r.Context(), bookingID, nil, "admin:"+id.UserID.String(), "admin")
	if err != nil {
		h.writeSettleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !res.Settled {
		// Already paid: the race was lost but the money is accounted for.
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "already paid",
			"booking": toBookingResponse(res.Booking),
		})
		return
	}
	json.NewEncoder(w).Encode(toBookingResponse(res.Booking))
}

// PaymentWebhook ingests gateway callbacks. Recognized-but-inapplicable
// payloads answer 200 so the gateway stops retrying; only store failures
// produce a retryable non-2xx.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.settlements.ProcessWebhook(r.Context(), raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"success": true}
	if res.Ignored != "" {
		resp["ignored"] = res.Ignored
	}
	if res.Booking != nil {
		resp["booking"] = toBookingResponse(res.Booking)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// PaymentDescriptor returns the transfer instruction for a pending booking.
func (h *Handlers) PaymentDescriptor(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrUnauthorized)
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.reservations.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if b.UserID != id.UserID && !id.Admin() {
		h.writeError(w, errors.Wrap(domain.ErrForbidden, "not your booking"))
		return
	}
	desc, err := payment.BuildDescriptor(*b, h.cfg.QRImageBaseURL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(desc)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var capErr *domain.CapacityError
	switch {
	case errors.As(err, &capErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "capacity exceeded",
			"unavailable_seats": capErr.Seats,
		})
	case errors.Is(err, domain.ErrCapacityExceeded):
		http.Error(w, "capacity exceeded", http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrExpired):
		http.Error(w, "booking expired", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotPending):
		http.Error(w, "booking is not pending", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) writeSettleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrExpired):
		http.Error(w, "booking expired", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotPending):
		http.Error(w, "booking is not pending", http.StatusConflict)
	case errors.Is(err, domain.ErrAmountMismatch):
		http.Error(w, "amount mismatch", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
