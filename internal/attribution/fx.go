package attribution

import (
	"github.com/smallbiznis/attribution/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution",
	fx.Provide(service.NewService),
)
