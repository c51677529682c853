package deployer

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/pkgdeploy/internal/config"
	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/repository/history"
	"github.com/oshokin/pkgdeploy/internal/repository/product"
)

var errHistoryDisabled = errors.New("history database is not configured")

// List returns the installed packages of the configured product.
func List(ctx context.Context, configPath string) ([]*deployment.ProductPackageInfo, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return product.NewFileRepository(cfg.StateFile).ListPackages(ctx)
}

// History returns the most recent runs first. A limit of zero returns all runs.
func History(ctx context.Context, configPath string, limit int) ([]*history.Run, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if cfg.HistoryDB == "" {
		return nil, errHistoryDisabled
	}

	store, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = store.Close()
	}()

	return store.Runs(ctx, limit)
}
