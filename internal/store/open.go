package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/storyboard-go/internal/config"
)

// Open creates the store selected by the configuration.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSurreal:
		return NewSurreal(ctx, SurrealConfig{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, log)
	case config.StoreLocal:
		return NewLocal(cfg.StorePath)
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.StoreBackend)
	}
}
