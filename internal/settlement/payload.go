package settlement

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// The gateway's payload schema is not contractually fixed, so each field is
// extracted through an ordered list of accepted aliases. Missing fields are
// explicit "not found" results, never zero values mistaken for data.

var memoAliases = []string{"content", "memo", "description", "addInfo", "transaction_content", "transferContent"}
var amountAliases = []string{"transferAmount", "amount", "creditAmount", "transaction_amount"}
var referenceAliases = []string{"referenceCode", "reference", "transactionId", "transaction_id", "tid", "id"}
var directionAliases = []string{"transferType", "direction", "type"}

// WebhookPayload is the typed view of an opaque gateway callback.
type WebhookPayload struct {
	Memo      string
	Amount    *float64
	Reference string
	Direction string
}

// ParseWebhookPayload extracts the typed fields from a loosely structured
// gateway document.
func ParseWebhookPayload(raw map[string]interface{}) WebhookPayload {
	var p WebhookPayload
	p.Memo, _ = firstString(raw, memoAliases...)
	if amount, ok := firstNumber(raw, amountAliases...); ok {
		p.Amount = &amount
	}
	p.Reference, _ = firstString(raw, referenceAliases...)
	p.Direction, _ = firstString(raw, directionAliases...)
	return p
}

// Credit reports whether the payload describes an incoming transfer. A
// missing direction counts as credit; gateways that omit it only notify on
// credits.
func (p WebhookPayload) Credit() bool {
	switch strings.ToLower(p.Direction) {
	case "", "in", "credit", "incoming":
		return true
	default:
		return false
	}
}

func firstString(raw map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func firstNumber(raw map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// bookingTokenRe matches the token the payment descriptor embeds in the
// transfer memo: the BOOKING keyword, tolerant separators, then the booking
// id as a UUID with or without dashes.
var bookingTokenRe = regexp.MustCompile(`(?i)BOOKING[\s:_\-]*([0-9a-f]{8}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{12})`)

// ExtractBookingID recovers the booking id embedded in a free-text memo.
func ExtractBookingID(memo string) (uuid.UUID, bool) {
	m := bookingTokenRe.FindStringSubmatch(memo)
	if m == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.ReplaceAll(m[1], "-", ""))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
