package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/attribution/internal/attribution/dispatch"
	"github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/attribution/lemonsqueezy"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// -- Mocks --

type senderMock struct {
	mock.Mock
	provider string
}

func (m *senderMock) Provider() string {
	return m.provider
}

func (m *senderMock) Send(ctx context.Context, record domain.PurchaseRecord) (domain.SendResult, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(domain.SendResult), args.Error(1)
}

const testSecret = "whsec_test"

const orderCreated = `{"meta":{"event_name":"order_created"},"data":{"id":"42","attributes":{"total":"1299","total_formatted":"$12.99","currency":"usd","user_email":"A@B.com","user_name":"Jane Doe","created_at":"2024-01-01T00:00:00Z"}}}`

func matchesExampleRecord(record domain.PurchaseRecord) bool {
	return record.TransactionID == "ls_42" &&
		record.Value == 12.99 &&
		record.Currency == "USD" &&
		record.TimestampMillis == time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func newTestService(senders ...domain.Sender) *Service {
	return New(testSecret, dispatch.Config{SendTimeout: time.Second}, senders, zap.NewNop(), nil)
}

func sign(payload string) string {
	return lemonsqueezy.Sign([]byte(payload), testSecret)
}

func TestIngestSendsToBothProviders(t *testing.T) {
	ga4 := &senderMock{provider: domain.ProviderGA4}
	meta := &senderMock{provider: domain.ProviderMeta}
	ga4.On("Send", mock.Anything, mock.MatchedBy(matchesExampleRecord)).
		Return(domain.SendResult{Provider: domain.ProviderGA4, StatusCode: 204}, nil).Once()
	meta.On("Send", mock.Anything, mock.MatchedBy(matchesExampleRecord)).
		Return(domain.SendResult{Provider: domain.ProviderMeta, StatusCode: 200}, nil).Once()

	svc := newTestService(ga4, meta)
	receipt, err := svc.Ingest(context.Background(), []byte(orderCreated), sign(orderCreated))
	require.NoError(t, err)

	assert.False(t, receipt.Ignored)
	assert.Equal(t, "ls_42", receipt.TransactionID)
	assert.True(t, receipt.GA4Sent)
	assert.True(t, receipt.MetaSent)
	assert.NotEmpty(t, receipt.DispatchID)
	assert.Len(t, receipt.Outcomes, 2)
	assert.Empty(t, receipt.Failed())

	ga4.AssertExpectations(t)
	meta.AssertExpectations(t)
}

func TestIngestOnlyMetaConfigured(t *testing.T) {
	meta := &senderMock{provider: domain.ProviderMeta}
	meta.On("Send", mock.Anything, mock.Anything).
		Return(domain.SendResult{Provider: domain.ProviderMeta, StatusCode: 200}, nil).Once()

	svc := newTestService(meta)
	receipt, err := svc.Ingest(context.Background(), []byte(orderCreated), sign(orderCreated))
	require.NoError(t, err)

	assert.False(t, receipt.GA4Sent)
	assert.True(t, receipt.MetaSent)
	meta.AssertExpectations(t)
}

func TestIngestToleratesProviderFailure(t *testing.T) {
	ga4 := &senderMock{provider: domain.ProviderGA4}
	meta := &senderMock{provider: domain.ProviderMeta}
	ga4.On("Send", mock.Anything, mock.Anything).
		Return(domain.SendResult{Provider: domain.ProviderGA4, StatusCode: 204}, nil).Once()
	meta.On("Send", mock.Anything, mock.Anything).
		Return(domain.SendResult{Provider: domain.ProviderMeta, StatusCode: 500}, &domain.SendError{
			Provider:   domain.ProviderMeta,
			StatusCode: 500,
			Body:       `{"error":{"message":"boom"}}`,
		}).Once()

	svc := newTestService(ga4, meta)
	receipt, err := svc.Ingest(context.Background(), []byte(orderCreated), sign(orderCreated))
	require.NoError(t, err)

	assert.True(t, receipt.GA4Sent)
	assert.True(t, receipt.MetaSent)
	failed := receipt.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.ProviderMeta, failed[0].Provider)
}

func TestIngestIgnoresOtherEvents(t *testing.T) {
	ga4 := &senderMock{provider: domain.ProviderGA4}
	payload := `{"meta":{"event_name":"subscription_created"},"data":{"id":"7","attributes":{}}}`

	svc := newTestService(ga4)
	receipt, err := svc.Ingest(context.Background(), []byte(payload), sign(payload))
	require.NoError(t, err)

	assert.True(t, receipt.Ignored)
	assert.Equal(t, "subscription_created", receipt.EventName)
	ga4.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIngestRejectsBadSignatureBeforeParsing(t *testing.T) {
	ga4 := &senderMock{provider: domain.ProviderGA4}
	svc := newTestService(ga4)

	_, err := svc.Ingest(context.Background(), []byte(orderCreated), "deadbeef")
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))

	_, err = svc.Ingest(context.Background(), []byte(orderCreated), "")
	assert.True(t, errors.Is(err, domain.ErrMissingSignature))

	_, err = svc.Ingest(context.Background(), []byte("not json"), "deadbeef")
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))

	ga4.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIngestWithoutSecretIsConfigurationError(t *testing.T) {
	ga4 := &senderMock{provider: domain.ProviderGA4}
	svc := New("", dispatch.Config{}, []domain.Sender{ga4}, nil, nil)

	_, err := svc.Ingest(context.Background(), []byte(orderCreated), sign(orderCreated))
	assert.True(t, errors.Is(err, domain.ErrWebhookSecretMissing))
	ga4.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIngestRejectsMalformedPurchase(t *testing.T) {
	ga4 := &senderMock{provider: domain.ProviderGA4}
	svc := newTestService(ga4)

	for _, payload := range []string{
		`{"meta":`,
		`{"meta":{"event_name":"order_created"},"data":{"id":"1","attributes":{"total":"abc","currency":"usd","created_at":"2024-01-01T00:00:00Z"}}}`,
	} {
		_, err := svc.Ingest(context.Background(), []byte(payload), sign(payload))
		assert.True(t, errors.Is(err, domain.ErrInvalidPayload), payload)
	}
	ga4.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestBuildSendersFollowsCredentialPairs(t *testing.T) {
	cfg := config.Config{
		GA4:  config.GA4Config{MeasurementID: "G-1"},
		Meta: config.MetaConfig{PixelID: "1", AccessToken: "t"},
	}
	senders := BuildSenders(cfg, nil, nil, nil, nil)
	require.Len(t, senders, 1)
	assert.Equal(t, domain.ProviderMeta, senders[0].Provider())

	cfg.GA4.APISecret = "s"
	senders = BuildSenders(cfg, nil, nil, nil, nil)
	require.Len(t, senders, 2)
	assert.Equal(t, domain.ProviderGA4, senders[0].Provider())
}
