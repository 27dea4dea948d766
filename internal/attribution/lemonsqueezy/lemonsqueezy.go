package lemonsqueezy

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/attribution/internal/attribution/domain"
)

var errMissing = errors.New("missing")

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{webhookSecret: strings.TrimSpace(webhookSecret)}
}

// Verify authenticates the raw, unparsed payload against the signature header value.
func (a *Adapter) Verify(payload []byte, signature string) error {
	if a == nil || a.webhookSecret == "" {
		return domain.ErrWebhookSecretMissing
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return domain.ErrMissingSignature
	}

	expected := Sign(payload, a.webhookSecret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload keyed with secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event is the subset of a checkout webhook this service reads. Order
// attributes stay raw until the event is known to be an order_created.
type Event struct {
	Meta eventMeta `json:"meta"`
	Data eventData `json:"data"`
}

type eventMeta struct {
	EventName string `json:"event_name"`
}

type eventData struct {
	ID         json.RawMessage `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type orderAttributes struct {
	Total     json.RawMessage `json:"total"`
	Currency  string          `json:"currency"`
	UserEmail string          `json:"user_email"`
	UserName  string          `json:"user_name"`
	CreatedAt string          `json:"created_at"`
}

// Decode reads the event envelope of a verified payload.
func Decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return event, nil
}

func (e Event) Name() string {
	return strings.TrimSpace(e.Meta.EventName)
}

// OrderID returns the provider order id, or an empty string when it is absent.
func (e Event) OrderID() string {
	id, _ := readID(e.Data.ID)
	return id
}

func (e Event) TotalFormatted() string {
	return e.attribute("total_formatted")
}

func (e Event) CustomerEmail() string {
	return e.attribute("user_email")
}

// attribute reads a string attribute for logging. Missing or non-string
// values read as empty.
func (e Event) attribute(key string) string {
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(e.Data.Attributes, &attrs); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(attrs[key], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// Purchase builds the PurchaseRecord for an order_created event.
// Other event names return domain.ErrEventIgnored.
func (e Event) Purchase() (domain.PurchaseRecord, error) {
	if e.Name() != domain.EventOrderCreated {
		return domain.PurchaseRecord{}, domain.ErrEventIgnored
	}

	orderID, err := readID(e.Data.ID)
	if err != nil {
		return domain.PurchaseRecord{}, invalidField("data.id", err)
	}

	var attrs orderAttributes
	if len(bytes.TrimSpace(e.Data.Attributes)) == 0 {
		return domain.PurchaseRecord{}, invalidField("data.attributes", errMissing)
	}
	if err := json.Unmarshal(e.Data.Attributes, &attrs); err != nil {
		return domain.PurchaseRecord{}, invalidField("data.attributes", err)
	}

	total, err := readMinorUnits(attrs.Total)
	if err != nil {
		return domain.PurchaseRecord{}, invalidField("total", err)
	}
	currency, err := readCurrency(attrs.Currency)
	if err != nil {
		return domain.PurchaseRecord{}, invalidField("currency", err)
	}
	createdAt, err := readTimestamp(attrs.CreatedAt)
	if err != nil {
		return domain.PurchaseRecord{}, invalidField("created_at", err)
	}

	return domain.PurchaseRecord{
		TransactionID:   domain.TransactionIDPrefix + orderID,
		Value:           float64(total) / 100,
		Currency:        currency,
		CustomerEmail:   strings.TrimSpace(attrs.UserEmail),
		CustomerName:    strings.TrimSpace(attrs.UserName),
		OrderID:         orderID,
		TimestampMillis: createdAt.UnixMilli(),
	}, nil
}

func invalidField(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPayload, field, err)
}

func readID(raw json.RawMessage) (string, error) {
	value, err := readScalar(raw)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", errMissing
	}
	return value, nil
}

func readMinorUnits(raw json.RawMessage) (int64, error) {
	value, err := readScalar(raw)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, errMissing
	}
	total, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer amount: %q", value)
	}
	if total < 0 {
		return 0, fmt.Errorf("negative amount: %d", total)
	}
	return total, nil
}

// readScalar accepts a JSON string or number and returns its trimmed text.
func readScalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("unsupported value %s", string(raw))
	}
	return n.String(), nil
}

func readCurrency(value string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if code == "" {
		return "", errMissing
	}
	if len(code) != 3 {
		return "", fmt.Errorf("expected a 3-letter code, got %q", value)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("expected a 3-letter code, got %q", value)
		}
	}
	return code, nil
}

func readTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errMissing
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
