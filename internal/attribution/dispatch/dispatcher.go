package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	"github.com/smallbiznis/attribution/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSendTimeout = 5 * time.Second

type Config struct {
	SendTimeout time.Duration
}

// Dispatcher fans a purchase out to every configured sender and waits for all of them.
type Dispatcher struct {
	senders     []domain.Sender
	sendTimeout time.Duration
	log         *zap.Logger
	metrics     *obsmetrics.Metrics
	tracer      trace.Tracer
}

func New(cfg Config, senders []domain.Sender, log *zap.Logger, metrics *obsmetrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	filtered := make([]domain.Sender, 0, len(senders))
	for _, sender := range senders {
		if sender != nil {
			filtered = append(filtered, sender)
		}
	}
	return &Dispatcher{
		senders:     filtered,
		sendTimeout: timeout,
		log:         log.Named("attribution.dispatch"),
		metrics:     metrics,
		tracer:      otel.Tracer("attribution/dispatch"),
	}
}

// Providers lists the providers this dispatcher sends to, in dispatch order.
func (d *Dispatcher) Providers() []string {
	providers := make([]string, 0, len(d.senders))
	for _, sender := range d.senders {
		providers = append(providers, sender.Provider())
	}
	return providers
}

// Has reports whether a sender for provider is configured.
func (d *Dispatcher) Has(provider string) bool {
	for _, sender := range d.senders {
		if sender.Provider() == provider {
			return true
		}
	}
	return false
}

// Dispatch returns one Outcome per sender, in sender order. A failing or slow
// sender never cancels its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, record domain.PurchaseRecord) []domain.Outcome {
	ctx, span := d.tracer.Start(ctx, "attribution.dispatch")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("transaction_id", record.TransactionID),
	)...)

	outcomes := make([]domain.Outcome, len(d.senders))
	var g errgroup.Group
	for i, sender := range d.senders {
		g.Go(func() error {
			outcomes[i] = d.send(ctx, sender, record)
			return nil
		})
	}
	_ = g.Wait()

	d.logOutcomes(ctx, record, outcomes)
	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, sender domain.Sender, record domain.PurchaseRecord) (outcome domain.Outcome) {
	provider := sender.Provider()
	start := time.Now()
	outcome.Provider = provider

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = &panicError{provider: provider, value: r}
		}
		outcome.Duration = time.Since(start)
		d.metrics.RecordSend(ctx, provider, outcome.Result.StatusCode, outcome.Err, outcome.Duration)
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	result, err := sender.Send(sendCtx, record)
	if err == nil && sendCtx.Err() != nil {
		err = sendCtx.Err()
	}
	if result.Provider == "" {
		result.Provider = provider
	}
	outcome.Result = result
	outcome.Err = err
	return outcome
}

func (d *Dispatcher) logOutcomes(ctx context.Context, record domain.PurchaseRecord, outcomes []domain.Outcome) {
	log := logger.WithContext(ctx, d.log).With(zap.String("transaction_id", record.TransactionID))

	failures := 0
	for _, outcome := range outcomes {
		plog := logger.WithProvider(log, outcome.Provider).With(
			zap.Int("status_code", outcome.Result.StatusCode),
			zap.Duration("duration", outcome.Duration),
		)
		if outcome.Succeeded() {
			plog.Info("analytics send succeeded")
			continue
		}
		failures++
		fields := []zap.Field{zap.Error(outcome.Err)}
		var sendErr *domain.SendError
		if errors.As(outcome.Err, &sendErr) && sendErr.Details != nil {
			fields = append(fields, zap.Any("details", sendErr.Details))
		}
		if errors.Is(outcome.Err, context.DeadlineExceeded) {
			fields = append(fields, zap.Bool("timeout", true))
		}
		plog.Error("analytics send failed", fields...)
	}

	if failures > 0 {
		log.Warn("some analytics sends failed, webhook still acknowledged",
			zap.Int("failed", failures),
			zap.Int("total", len(outcomes)),
		)
	}
}

type panicError struct {
	provider string
	value    any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s sender panicked: %v", e.provider, e.value)
}
