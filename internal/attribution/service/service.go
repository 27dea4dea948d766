package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/attribution/internal/attribution/dispatch"
	"github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/attribution/lemonsqueezy"
	"github.com/smallbiznis/attribution/internal/attribution/pii"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	outcomeProcessed    = "processed"
	outcomeIgnored      = "ignored"
	outcomeUnauthorized = "unauthorized"
	outcomeInvalid      = "invalid"
	outcomeMisconfig    = "misconfigured"
)

var knownProviders = []string{domain.ProviderGA4, domain.ProviderMeta}

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Catalog *config.CatalogHolder
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	adapter    *lemonsqueezy.Adapter
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	client := &http.Client{Timeout: p.Cfg.Dispatch.SendTimeout + time.Second}
	senders := BuildSenders(p.Cfg, p.Catalog, p.Clock, client, log)

	svc := New(p.Cfg.Webhook.Secret, dispatch.Config{SendTimeout: p.Cfg.Dispatch.SendTimeout}, senders, log, p.Metrics)
	if p.Cfg.Webhook.Secret == "" {
		svc.log.Error("LEMON_SQUEEZY_WEBHOOK_SECRET is not set, every webhook will be rejected")
	}
	svc.log.Info("purchase attribution configured",
		zap.Strings("providers", svc.dispatcher.Providers()),
		zap.Duration("send_timeout", p.Cfg.Dispatch.SendTimeout),
	)
	return svc
}

// New wires a Service from explicit collaborators.
func New(webhookSecret string, cfg dispatch.Config, senders []domain.Sender, log *zap.Logger, metrics *obsmetrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		adapter:    lemonsqueezy.NewAdapter(webhookSecret),
		dispatcher: dispatch.New(cfg, senders, log, metrics),
		log:        log.Named("attribution.service"),
		metrics:    metrics,
	}
}

// Ingest authenticates a raw webhook delivery and forwards order_created events
// to every configured analytics provider. Send failures are logged, never returned.
func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) (domain.Receipt, error) {
	log := logger.WithContext(ctx, s.log)

	if err := s.adapter.Verify(payload, signature); err != nil {
		switch {
		case errors.Is(err, domain.ErrWebhookSecretMissing):
			log.Error("webhook secret not configured")
			s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeMisconfig)
		case errors.Is(err, domain.ErrMissingSignature):
			log.Warn("webhook signature missing")
			s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeUnauthorized)
		default:
			log.Warn("webhook signature invalid")
			s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeUnauthorized)
		}
		return domain.Receipt{}, err
	}

	event, err := lemonsqueezy.Decode(payload)
	if err != nil {
		log.Warn("webhook payload is not valid JSON", zap.Error(err))
		s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeInvalid)
		return domain.Receipt{}, err
	}

	log.Info("checkout webhook received",
		zap.String("event_name", event.Name()),
		zap.String("order_id", event.OrderID()),
		zap.String("customer_email", pii.RedactEmail(event.CustomerEmail())),
		zap.String("total", event.TotalFormatted()),
	)

	record, err := event.Purchase()
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			log.Info("ignoring non-purchase event", zap.String("event_name", event.Name()))
			s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeIgnored)
			return domain.Receipt{Ignored: true, EventName: event.Name()}, nil
		}
		log.Warn("purchase payload rejected", zap.Error(err))
		s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeInvalid)
		return domain.Receipt{}, err
	}

	dispatchID := ulid.Make().String()
	log = log.With(
		zap.String("dispatch_id", dispatchID),
		zap.String("transaction_id", record.TransactionID),
	)
	log.Info("processing purchase event",
		zap.Float64("value", record.Value),
		zap.String("currency", record.Currency),
		zap.Time("occurred_at", record.OccurredAt()),
	)
	for _, provider := range knownProviders {
		if !s.dispatcher.Has(provider) {
			log.Warn("analytics send skipped, credentials not configured", zap.String("provider", provider))
		}
	}

	outcomes := s.dispatcher.Dispatch(ctx, record)
	s.metrics.RecordWebhook(ctx, domain.ProviderLemonSqueezy, outcomeProcessed)

	return domain.Receipt{
		EventName:     event.Name(),
		DispatchID:    dispatchID,
		TransactionID: record.TransactionID,
		GA4Sent:       s.dispatcher.Has(domain.ProviderGA4),
		MetaSent:      s.dispatcher.Has(domain.ProviderMeta),
		Outcomes:      outcomes,
	}, nil
}
