package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/attribution/internal/attribution/lemonsqueezy"
)

type webhookResponse struct {
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	GA4Sent       bool   `json:"ga4_sent"`
	MetaSent      bool   `json:"meta_sent"`
}

// HandleLemonSqueezyWebhook hands the raw, unparsed body to the attribution service.
func (s *Server) HandleLemonSqueezyWebhook(c *gin.Context) {
	body := c.Request.Body
	if limit := s.cfg.Webhook.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(c.Writer, body, limit)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, err)
		return
	}

	receipt, err := s.attributionSvc.Ingest(c.Request.Context(), payload, c.GetHeader(lemonsqueezy.SignatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("event_name", receipt.EventName)
	if receipt.Ignored {
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
		return
	}

	c.Set("transaction_id", receipt.TransactionID)
	c.JSON(http.StatusOK, webhookResponse{
		Message:       "Purchase attribution processed successfully",
		TransactionID: receipt.TransactionID,
		GA4Sent:       receipt.GA4Sent,
		MetaSent:      receipt.MetaSent,
	})
}
