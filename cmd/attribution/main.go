package main

import (
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/observability"
	"github.com/smallbiznis/attribution/internal/server"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		clock.Module,

		// HTTP surface, attribution service and webhook rate limiting
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}
