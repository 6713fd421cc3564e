package artifacts

import (
	"context"
	"fmt"
	"log/slog"

	"reelsmith/internal/config"
	"reelsmith/internal/objectstore"
)

// NewFromConfig opens the registry described by cfg, connecting the object
// store mirror when it is enabled.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	opts := Options{
		Root:          cfg.Paths.RegistryDir,
		IndexFile:     cfg.Registry.IndexFile,
		DisableCopies: !cfg.Registry.StoreCopies,
		Logger:        logger,
	}
	if cfg.Registry.Mirror.Enabled {
		store, err := objectstore.NewMinioStore(ctx, cfg.Registry.Mirror)
		if err != nil {
			return nil, fmt.Errorf("connect registry mirror: %w", err)
		}
		opts.Mirror = objectstore.NewMirror(store, cfg.Registry.Mirror.Prefix)
	}
	return New(opts)
}
