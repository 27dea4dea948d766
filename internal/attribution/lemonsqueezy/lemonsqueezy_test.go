package lemonsqueezy

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/attribution/internal/attribution/domain"
)

const examplePayload = `{"meta":{"event_name":"order_created"},"data":{"id":"42","attributes":{"total":"1299","currency":"usd","user_email":"A@B.com","user_name":"Jane Doe","created_at":"2024-01-01T00:00:00Z"}}}`

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(examplePayload)
	adapter := NewAdapter(secret)

	if err := adapter.Verify(payload, Sign(payload, secret)); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}
	if err := adapter.Verify(payload, Sign(payload, "wrong")); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
	if err := adapter.Verify(payload, ""); !errors.Is(err, domain.ErrMissingSignature) {
		t.Fatalf("expected missing signature error, got %v", err)
	}
}

func TestVerifyRejectsEverySingleBitMutation(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(examplePayload)
	signature := Sign(payload, secret)
	adapter := NewAdapter(secret)

	for i := range payload {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), payload...)
			mutated[i] ^= 1 << bit
			if err := adapter.Verify(mutated, signature); !errors.Is(err, domain.ErrInvalidSignature) {
				t.Fatalf("byte %d bit %d: expected rejection, got %v", i, bit, err)
			}
		}
	}
}

func TestVerifyWithoutSecretFailsClosed(t *testing.T) {
	payload := []byte(examplePayload)
	adapter := NewAdapter("  ")
	if err := adapter.Verify(payload, Sign(payload, "")); !errors.Is(err, domain.ErrWebhookSecretMissing) {
		t.Fatalf("expected secret missing error, got %v", err)
	}

	var nilAdapter *Adapter
	if err := nilAdapter.Verify(payload, "abc"); !errors.Is(err, domain.ErrWebhookSecretMissing) {
		t.Fatalf("expected secret missing error from nil adapter, got %v", err)
	}
}

func TestVerifyUsesRawBytesNotReserializedJSON(t *testing.T) {
	secret := "whsec_test"
	compact := []byte(`{"meta":{"event_name":"order_created"}}`)
	spaced := []byte(`{"meta": {"event_name": "order_created"}}`)

	adapter := NewAdapter(secret)
	if err := adapter.Verify(spaced, Sign(compact, secret)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected semantically equal but byte-different body to be rejected, got %v", err)
	}
}

func parse(payload []byte) (domain.PurchaseRecord, error) {
	event, err := Decode(payload)
	if err != nil {
		return domain.PurchaseRecord{}, err
	}
	return event.Purchase()
}

func TestParseOrderCreated(t *testing.T) {
	record, err := parse([]byte(examplePayload))
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}

	if record.TransactionID != "ls_42" {
		t.Fatalf("expected transaction id ls_42, got %s", record.TransactionID)
	}
	if record.Value != 12.99 {
		t.Fatalf("expected value 12.99, got %v", record.Value)
	}
	if record.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", record.Currency)
	}
	if record.OrderID != "42" {
		t.Fatalf("expected order id 42, got %s", record.OrderID)
	}
	if record.CustomerEmail != "A@B.com" || record.CustomerName != "Jane Doe" {
		t.Fatalf("unexpected customer fields %q %q", record.CustomerEmail, record.CustomerName)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if record.TimestampMillis != want {
		t.Fatalf("expected timestamp %d, got %d", want, record.TimestampMillis)
	}
}

func TestParseAcceptsNumericFields(t *testing.T) {
	payload := []byte(`{"meta":{"event_name":"order_created"},"data":{"id":1001,"attributes":{"total":3700,"currency":"eur","created_at":"2024-03-05T10:11:12.000000Z"}}}`)

	record, err := parse(payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if record.TransactionID != "ls_1001" {
		t.Fatalf("expected transaction id ls_1001, got %s", record.TransactionID)
	}
	if record.Value != 37 {
		t.Fatalf("expected value 37, got %v", record.Value)
	}
	if record.CustomerEmail != "" || record.CustomerName != "" {
		t.Fatalf("expected absent customer fields")
	}
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	for _, name := range []string{"subscription_created", "order_refunded", ""} {
		payload := []byte(`{"meta":{"event_name":"` + name + `"},"data":{"id":"1","attributes":{}}}`)
		if _, err := parse(payload); !errors.Is(err, domain.ErrEventIgnored) {
			t.Fatalf("event %q: expected ignored, got %v", name, err)
		}
	}
}

func TestParseIgnoresOtherEventsWithForeignAttributes(t *testing.T) {
	payload := []byte(`{"meta":{"event_name":"subscription_updated"},"data":{"id":"7","attributes":{"user_name":{"first":"x"},"total":[1],"user_email":42}}}`)

	event, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := event.Purchase(); !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ignored, got %v", err)
	}
	if event.CustomerEmail() != "" || event.TotalFormatted() != "" {
		t.Fatalf("expected non-string attributes to read as empty, got %q %q", event.CustomerEmail(), event.TotalFormatted())
	}
}

func TestParseRejectsMalformedPurchase(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"meta":`},
		{"missing total", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"currency":"usd","created_at":"2024-01-01T00:00:00Z"}}}`},
		{"fractional total", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":"12.99","currency":"usd","created_at":"2024-01-01T00:00:00Z"}}}`},
		{"negative total", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":-5,"currency":"usd","created_at":"2024-01-01T00:00:00Z"}}}`},
		{"missing currency", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":100,"created_at":"2024-01-01T00:00:00Z"}}}`},
		{"bad currency", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":100,"currency":"dollars","created_at":"2024-01-01T00:00:00Z"}}}`},
		{"missing created_at", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":100,"currency":"usd"}}}`},
		{"bad created_at", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":100,"currency":"usd","created_at":"yesterday"}}}`},
		{"foreign user_name", `{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":100,"currency":"usd","user_name":{"first":"x"},"created_at":"2024-01-01T00:00:00Z"}}}`},
		{"missing attributes", `{"meta":{"event_name":"order_created"},"data":{"id":"1"}}`},
		{"missing id", `{"meta":{"event_name":"order_created"},"data":{"attributes":{"total":100,"currency":"usd","created_at":"2024-01-01T00:00:00Z"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse([]byte(tt.payload)); !errors.Is(err, domain.ErrInvalidPayload) {
				t.Fatalf("expected invalid payload, got %v", err)
			}
		})
	}
}

func TestDecodeExposesLogFields(t *testing.T) {
	event, err := Decode([]byte(`{"meta":{"event_name":"order_created"},"data":{"id":7,"attributes":{"total_formatted":"$12.99","user_email":" x@y.z "}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Name() != "order_created" || event.OrderID() != "7" {
		t.Fatalf("unexpected event fields %q %q", event.Name(), event.OrderID())
	}
	if event.TotalFormatted() != "$12.99" || event.CustomerEmail() != "x@y.z" {
		t.Fatalf("unexpected attribute fields %q %q", event.TotalFormatted(), event.CustomerEmail())
	}
}
