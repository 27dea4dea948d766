package domain

import "context"

// Sender forwards a purchase to one analytics ingestion API.
type Sender interface {
	Provider() string
	Send(ctx context.Context, record PurchaseRecord) (SendResult, error)
}

// Service ingests signed checkout webhooks.
type Service interface {
	Ingest(ctx context.Context, payload []byte, signature string) (Receipt, error)
}
