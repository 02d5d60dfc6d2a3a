package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/audit"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
)

// clientConfig maps the network section onto the HTTP client.
func clientConfig(n config.NetworkConfig, logger *zap.Logger) *network.ClientConfig {
	c := network.NewDefaultClientConfig()
	c.RequestTimeout = n.Timeout
	if n.DialTimeout > 0 {
		c.DialTimeout = n.DialTimeout
	}
	c.IgnoreTLSErrors = n.IgnoreTLSErrors
	c.ForceHTTP2 = n.ForceHTTP2
	c.RateLimit = n.RateLimit
	c.Burst = n.Burst
	c.MaxConcurrency = n.MaxConcurrency
	c.MaxBodySize = n.MaxBodySize
	c.Headers = n.Headers
	c.Custom404Threshold = n.Custom404Threshold
	c.Logger = logger
	return c
}

func newSession(a config.AuditConfig) (*audit.Session, error) {
	kinds, err := a.ElementKinds()
	if err != nil {
		return nil, err
	}
	return audit.NewSession(audit.SessionConfig{
		EnabledElements:  kinds,
		DefaultMaxIssues: a.DefaultMaxIssues,
		MaxIssues:        a.MaxIssues,
	}), nil
}

// newRegistry creates the results sink. With persist set, issues are written
// to the database and issues already stored for scanID are not logged again.
func newRegistry(ctx context.Context, cfg config.Interface, provider storeProvider, scanID string, persist bool, logger *zap.Logger) (*results.Registry, func(), error) {
	if scanID == "" {
		scanID = uuid.NewString()
	}
	if !persist {
		return results.NewRegistry(results.Config{ScanID: scanID, Logger: logger}), func() {}, nil
	}

	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	reg := results.NewRegistry(results.Config{
		ScanID:    scanID,
		Persister: s,
		BatchSize: cfg.Audit().PersistBatchSize,
		Logger:    logger,
	})
	if err := reg.Preload(ctx, s); err != nil {
		cleanup()
		return nil, nil, err
	}
	return reg, cleanup, nil
}

// finish flushes reg and writes its report to out.
func finish(ctx context.Context, out io.Writer, reg *results.Registry) error {
	if err := reg.Flush(ctx); err != nil {
		return fmt.Errorf("failed to persist issues: %w", err)
	}
	return printJSON(out, reg.NewReport())
}

func printJSON(out io.Writer, v interface{}) error {
	raw, err := schemas.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(raw))
	return err
}
