package service

import (
	"net/http"

	"github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/attribution/senders/ga4"
	"github.com/smallbiznis/attribution/internal/attribution/senders/meta"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"go.uber.org/zap"
)

// BuildSenders constructs a sender for every provider whose credential pair is complete.
func BuildSenders(cfg config.Config, catalog *config.CatalogHolder, clk clock.Clock, client *http.Client, log *zap.Logger) []domain.Sender {
	if log == nil {
		log = zap.NewNop()
	}

	var senders []domain.Sender
	if cfg.GA4.Enabled() {
		senders = append(senders, ga4.New(ga4.Config{
			MeasurementID: cfg.GA4.MeasurementID,
			APISecret:     cfg.GA4.APISecret,
			Endpoint:      cfg.GA4.Endpoint,
			HTTPClient:    client,
			Catalog:       catalog,
		}))
	} else {
		log.Warn("GA4 credentials not configured, purchases will not be sent to GA4")
	}

	if cfg.Meta.Enabled() {
		senders = append(senders, meta.New(meta.Config{
			PixelID:     cfg.Meta.PixelID,
			AccessToken: cfg.Meta.AccessToken,
			Endpoint:    cfg.Meta.Endpoint,
			APIVersion:  cfg.Meta.APIVersion,
			HTTPClient:  client,
			Catalog:     catalog,
			Clock:       clk,
		}))
	} else {
		log.Warn("Meta credentials not configured, purchases will not be sent to Meta")
	}

	return senders
}
