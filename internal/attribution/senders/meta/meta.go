package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/attribution/pii"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	eventPurchase   = "Purchase"
	actionWebsite   = "website"
	testEventPrefix = "TEST_"

	maxResponseBody = 64 << 10
)

type Config struct {
	PixelID     string
	AccessToken string
	Endpoint    string
	APIVersion  string
	HTTPClient  *http.Client
	Catalog     *config.CatalogHolder
	Clock       clock.Clock
}

// Sender posts purchase events to the Meta Conversions API.
type Sender struct {
	pixelID     string
	accessToken string
	endpoint    string
	apiVersion  string
	client      *http.Client
	catalog     *config.CatalogHolder
	clock       clock.Clock
	tracer      trace.Tracer
}

func New(cfg Config) *Sender {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = "https://graph.facebook.com"
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = "v18.0"
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Sender{
		pixelID:     strings.TrimSpace(cfg.PixelID),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		endpoint:    endpoint,
		apiVersion:  version,
		client:      client,
		catalog:     cfg.Catalog,
		clock:       clk,
		tracer:      otel.Tracer("attribution/senders/meta"),
	}
}

func (s *Sender) Provider() string {
	return domain.ProviderMeta
}

type payload struct {
	Data          []serverEvent `json:"data"`
	TestEventCode string        `json:"test_event_code"`
}

type serverEvent struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id"`
	UserData       userData   `json:"user_data"`
	CustomData     customData `json:"custom_data"`
	EventSourceURL string     `json:"event_source_url"`
	ActionSource   string     `json:"action_source"`
}

// userData fields are hashed; absent values are sent as JSON null.
type userData struct {
	Email      *string `json:"em"`
	FirstName  *string `json:"fn"`
	LastName   *string `json:"ln"`
	ExternalID *string `json:"external_id"`
}

type customData struct {
	Value       float64  `json:"value"`
	Currency    string   `json:"currency"`
	ContentName string   `json:"content_name"`
	ContentType string   `json:"content_type"`
	ContentIDs  []string `json:"content_ids"`
}

func (s *Sender) buildPayload(record domain.PurchaseRecord, testEventCode string) payload {
	catalog := s.catalog.Get()
	first, last := pii.SplitName(record.CustomerName)

	return payload{
		Data: []serverEvent{{
			EventName: eventPurchase,
			EventTime: record.TimestampMillis / 1000,
			EventID:   record.TransactionID,
			UserData: userData{
				Email:      pii.Hash(record.CustomerEmail),
				FirstName:  pii.Hash(first),
				LastName:   pii.Hash(last),
				ExternalID: pii.Hash(record.OrderID),
			},
			CustomData: customData{
				Value:       record.Value,
				Currency:    record.Currency,
				ContentName: catalog.Product.Name,
				ContentType: catalog.Product.ContentType,
				ContentIDs:  []string{catalog.Product.ID},
			},
			EventSourceURL: catalog.EventSourceURL,
			ActionSource:   actionWebsite,
		}},
		TestEventCode: testEventCode,
	}
}

// TestEventCode tags events so they show up in the Events Manager test view.
func (s *Sender) TestEventCode() string {
	return testEventPrefix + strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
}

// Send posts one purchase event. Non-2xx answers are returned as *domain.SendError
// carrying the decoded error body.
func (s *Sender) Send(ctx context.Context, record domain.PurchaseRecord) (domain.SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "meta.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", domain.ProviderMeta),
		attribute.String("transaction_id", record.TransactionID),
	)

	result, err := s.send(ctx, record)
	span.SetAttributes(attribute.Int("http.status_code", result.StatusCode))
	if err != nil {
		span.SetStatus(codes.Error, "meta send failed")
		return result, err
	}
	return result, nil
}

func (s *Sender) send(ctx context.Context, record domain.PurchaseRecord) (domain.SendResult, error) {
	testEventCode := s.TestEventCode()
	body, err := json.Marshal(s.buildPayload(record, testEventCode))
	if err != nil {
		return domain.SendResult{Provider: domain.ProviderMeta}, err
	}

	query := url.Values{}
	query.Set("access_token", s.accessToken)
	target := fmt.Sprintf("%s/%s/%s/events?%s", s.endpoint, s.apiVersion, url.PathEscape(s.pixelID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{Provider: domain.ProviderMeta}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.SendResult{Provider: domain.ProviderMeta}, fmt.Errorf("meta request: %w", err)
	}
	defer resp.Body.Close()

	result := domain.SendResult{Provider: domain.ProviderMeta, StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return result, fmt.Errorf("meta read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		sendErr := &domain.SendError{
			Provider:   domain.ProviderMeta,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
		var details map[string]any
		if err := json.Unmarshal(raw, &details); err == nil {
			sendErr.Details = details
		}
		return result, sendErr
	}

	response := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &response); err != nil {
			return result, fmt.Errorf("meta decode response: %w", err)
		}
	}
	response["test_event_code"] = testEventCode
	result.Response = response
	return result, nil
}
