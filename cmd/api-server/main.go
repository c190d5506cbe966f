// Command api-server runs the storefront API: order commitment, provider
// payment callbacks and the checkout return redirects.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	shop "github.com/GaryWong163/Online-shop/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := shop.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Configuration loaded",
			zap.String("merchant", cfg.Merchant.ID),
			zap.String("currency", cfg.Merchant.Currency),
			zap.Bool("redis", cfg.Redis.URL != ""),
			zap.Bool("rabbitmq", cfg.RabbitMQ.URL != ""),
		)
		return shop.Run(ctx, lg, m, cfg)
	})
}
