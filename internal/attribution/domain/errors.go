package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWebhookSecretMissing = errors.New("webhook_secret_missing")
	ErrMissingSignature     = errors.New("missing_signature")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrEventIgnored         = errors.New("event_ignored")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrSendFailed           = errors.New("send_failed")
)

// SendError is returned by senders when the provider answers with a non-2xx status.
type SendError struct {
	Provider   string
	StatusCode int
	Body       string
	Details    map[string]any
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s api error: %d - %s", e.Provider, e.StatusCode, e.Body)
}

func (e *SendError) Unwrap() error {
	return ErrSendFailed
}

// IsAuthenticationError reports whether err rejects the caller's credentials.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrInvalidSignature)
}
