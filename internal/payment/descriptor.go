package payment

import (
	"net/url"
	"strings"
	"time"

	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Descriptor is the bank-transfer instruction handed to the checkout UI.
// AddInfo carries the memo the buyer's banking app will attach to the
// transfer; the webhook parser recovers the booking id from that same token.
type Descriptor struct {
	BookingID  string          `json:"bookingId"`
	Amount     decimal.Decimal `json:"amount"`
	AddInfo    string          `json:"addInfo"`
	QRImageURL string          `json:"qrImageUrl"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

// AddInfoToken formats the recoverable booking token. Dashes are stripped
// because banking apps routinely mangle punctuation in memo fields.
func AddInfoToken(bookingID uuid.UUID) string {
	return "BOOKING " + strings.ReplaceAll(bookingID.String(), "-", "")
}

// BuildDescriptor produces the payment descriptor for a pending booking.
func BuildDescriptor(b domain.Booking, qrBaseURL string) (*Descriptor, error) {
	if b.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}

	addInfo := AddInfoToken(b.ID)
	amount := decimal.NewFromFloat(b.TotalAmount).Round(0)

	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("addInfo", addInfo)

	return &Descriptor{
		BookingID:  b.ID.String(),
		Amount:     amount,
		AddInfo:    addInfo,
		QRImageURL: qrBaseURL + "?" + q.Encode(),
		ExpiresAt:  b.ExpiresAt,
	}, nil
}
