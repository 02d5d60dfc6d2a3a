package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
	"github.com/xkilldash9x/scalpel-audit/internal/store"
)

// issueStore is the slice of the database the commands use.
type issueStore interface {
	results.Persister
	results.KeyLoader
	GetIssuesByScanID(ctx context.Context, scanID string) ([]schemas.Issue, error)
}

// storeProvider creates the issue store. Tests substitute a mock.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing it.
	Create(ctx context.Context, cfg config.Interface) (issueStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider connecting to PostgreSQL.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (issueStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (SCALPEL_AUDIT_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}
