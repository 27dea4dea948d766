package domain

import (
	"time"
)

const (
	ProviderLemonSqueezy = "lemon_squeezy"
	ProviderGA4          = "ga4"
	ProviderMeta         = "meta"

	// TransactionIDPrefix namespaces checkout order ids inside analytics reports.
	TransactionIDPrefix = "ls_"

	EventOrderCreated = "order_created"
)

// PurchaseRecord is the normalized, verified representation of one purchase.
// It is built once per accepted webhook and never mutated afterwards.
type PurchaseRecord struct {
	TransactionID   string
	Value           float64
	Currency        string
	CustomerEmail   string
	CustomerName    string
	OrderID         string
	TimestampMillis int64
}

// OccurredAt returns the purchase time as a UTC time.Time.
func (r PurchaseRecord) OccurredAt() time.Time {
	return time.UnixMilli(r.TimestampMillis).UTC()
}

// SendResult is what a sender reports after the provider accepted an event.
type SendResult struct {
	Provider   string
	StatusCode int
	Response   map[string]any
}

// Outcome captures one settled dispatch branch.
type Outcome struct {
	Provider string
	Result   SendResult
	Err      error
	Duration time.Duration
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Receipt summarizes how a webhook delivery was handled.
type Receipt struct {
	Ignored       bool
	EventName     string
	DispatchID    string
	TransactionID string
	GA4Sent       bool
	MetaSent      bool
	Outcomes      []Outcome
}

// Failed returns the outcomes whose send did not succeed.
func (r Receipt) Failed() []Outcome {
	var failed []Outcome
	for _, outcome := range r.Outcomes {
		if !outcome.Succeeded() {
			failed = append(failed, outcome)
		}
	}
	return failed
}
