package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/audit"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/page"
)

// remoteFileCheck is the check probe findings are logged under.
var remoteFileCheck = core.CheckInfo{
	Name:        "remote_file",
	Description: "A file that should not be public is reachable.",
	Severity:    schemas.SeverityMedium,
	Elements:    []schemas.ElementKind{schemas.ElementPath},
}

type probeOptions struct {
	scanID  string
	persist bool
}

func newProbeCmd(provider storeProvider) *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe <base-url> <path>...",
		Short: "Log the remote files that exist under a base URL",
		Long: `Requests each path relative to the base URL and logs an issue for every
one answering 200 with content other than the site's not-found page.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runProbe(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, args[0], args[1:], opts, provider)
		},
	}

	cmd.Flags().StringVar(&opts.scanID, "scan-id", "", "scan ID issues are recorded under (default: random)")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "store issues in the database")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, baseURL string, paths []string, opts probeOptions, provider storeProvider) error {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid base URL %q", baseURL)
	}

	reg, cleanup, err := newRegistry(ctx, cfg, provider, opts.scanID, opts.persist, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	session, err := newSession(cfg.Audit())
	if err != nil {
		return err
	}

	client := network.NewClient(clientConfig(cfg.Network(), logger))
	defer client.Close()

	a := audit.New(core.NewBaseCheck(remoteFileCheck, logger), page.New(base.String(), 0, "", nil), session, audit.Deps{
		Sink:        reg,
		Transport:   client,
		Logger:      logger,
		Metrics:     metricsFromContext(ctx),
		Concurrency: cfg.Audit().Concurrency,
	})

	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			logger.Warn("Skipping unparsable path.", zap.String("path", p), zap.Error(err))
			continue
		}
		target := base.ResolveReference(ref).String()
		if res := a.LogRemoteFileIfExists(ctx, target); res != audit.ProbeDispatched {
			logger.Warn("Probe not dispatched.", zap.String("url", target), zap.Stringer("result", res))
		}
	}
	client.Wait()

	return finish(ctx, out, reg)
}
