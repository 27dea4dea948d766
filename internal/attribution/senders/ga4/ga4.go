package ga4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	collectPath   = "/mp/collect"
	eventPurchase = "purchase"
	clientPrefix  = "lemon_squeezy_"

	maxErrorBody = 64 << 10
)

type Config struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
	HTTPClient    *http.Client
	Catalog       *config.CatalogHolder
}

// Sender posts purchase events to the GA4 Measurement Protocol.
type Sender struct {
	measurementID string
	apiSecret     string
	endpoint      string
	client        *http.Client
	catalog       *config.CatalogHolder
	tracer        trace.Tracer
}

func New(cfg Config) *Sender {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = "https://www.google-analytics.com"
	}
	return &Sender{
		measurementID: strings.TrimSpace(cfg.MeasurementID),
		apiSecret:     strings.TrimSpace(cfg.APISecret),
		endpoint:      endpoint,
		client:        client,
		catalog:       cfg.Catalog,
		tracer:        otel.Tracer("attribution/senders/ga4"),
	}
}

func (s *Sender) Provider() string {
	return domain.ProviderGA4
}

type payload struct {
	ClientID string  `json:"client_id"`
	Events   []event `json:"events"`
}

type event struct {
	Name   string      `json:"name"`
	Params eventParams `json:"params"`
}

type eventParams struct {
	TransactionID string  `json:"transaction_id"`
	Value         float64 `json:"value"`
	Currency      string  `json:"currency"`
	Items         []item  `json:"items"`
}

type item struct {
	ItemName string  `json:"item_name"`
	ItemID   string  `json:"item_id"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Category string  `json:"category"`
}

// ClientID is derived from the transaction so a redelivered webhook maps to the same GA4 client.
func ClientID(transactionID string) string {
	return clientPrefix + transactionID
}

func (s *Sender) buildPayload(record domain.PurchaseRecord) payload {
	product := s.catalog.Get().Product
	return payload{
		ClientID: ClientID(record.TransactionID),
		Events: []event{{
			Name: eventPurchase,
			Params: eventParams{
				TransactionID: record.TransactionID,
				Value:         record.Value,
				Currency:      record.Currency,
				Items: []item{{
					ItemName: product.Name,
					ItemID:   product.ID,
					Price:    record.Value,
					Quantity: 1,
					Category: product.Category,
				}},
			},
		}},
	}
}

// Send posts one purchase event. Any non-2xx answer is returned as *domain.SendError.
func (s *Sender) Send(ctx context.Context, record domain.PurchaseRecord) (domain.SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "ga4.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", domain.ProviderGA4),
		attribute.String("transaction_id", record.TransactionID),
	)

	result, err := s.send(ctx, record)
	span.SetAttributes(attribute.Int("http.status_code", result.StatusCode))
	if err != nil {
		span.SetStatus(codes.Error, "ga4 send failed")
		return result, err
	}
	return result, nil
}

func (s *Sender) send(ctx context.Context, record domain.PurchaseRecord) (domain.SendResult, error) {
	body, err := json.Marshal(s.buildPayload(record))
	if err != nil {
		return domain.SendResult{Provider: domain.ProviderGA4}, err
	}

	query := url.Values{}
	query.Set("measurement_id", s.measurementID)
	query.Set("api_secret", s.apiSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+collectPath+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{Provider: domain.ProviderGA4}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.SendResult{Provider: domain.ProviderGA4}, fmt.Errorf("ga4 request: %w", err)
	}
	defer resp.Body.Close()

	result := domain.SendResult{Provider: domain.ProviderGA4, StatusCode: resp.StatusCode}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return result, &domain.SendError{
			Provider:   domain.ProviderGA4,
			StatusCode: resp.StatusCode,
			Body:       string(text),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return result, nil
}
