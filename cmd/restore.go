package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/browser"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

// restoreResult is what restore prints. The reached fields describe where
// the browser ended up, when that could be read.
type restoreResult struct {
	URL           string `json:"url"`
	Depth         int    `json:"depth"`
	Transitions   int    `json:"playable_transitions"`
	Restored      bool   `json:"restored"`
	Matches       bool   `json:"digest_matches"`
	ReachedURL    string `json:"reached_url,omitempty"`
	ReachedDigest string `json:"reached_digest,omitempty"`
	Error         string `json:"error,omitempty"`
}

// browserFactory starts the browser restores run in. Tests substitute it.
type browserFactory func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (restorer, error)

type restorer interface {
	Restore(ctx context.Context, st *dom.State, stepTimeout time.Duration) (bool, error)
	Capture(ctx context.Context, st *dom.State) error
	Close() error
}

func newChromeBrowser(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (restorer, error) {
	d, err := browser.NewDriver(ctx, browser.Config{
		Headless:          cfg.Headless,
		ExecPath:          cfg.ExecPath,
		Args:              cfg.Args,
		IgnoreTLSErrors:   cfg.IgnoreTLSErrors,
		NavigationTimeout: cfg.NavigationTimeout,
		PostLoadWait:      cfg.PostLoadWait,
		Headers:           cfg.Headers,
	}, logger, metricsFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <state.json>",
		Short: "Replay a recorded DOM state in a browser",
		Long: `Loads a serialized DOM state, drives a headless browser back into it and
reports whether the document reached matches the recorded digest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runRestore(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, args[0], newChromeBrowser)
		},
	}
}

func runRestore(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, path string, newBrowser browserFactory) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	st, err := dom.Decode(raw)
	if err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}

	b, err := newBrowser(ctx, cfg.Browser(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		}
	}()

	res := restoreResult{
		URL:         st.URL(),
		Depth:       st.Depth(),
		Transitions: len(st.PlayableTransitions()),
	}
	matches, restoreErr := b.Restore(ctx, st, cfg.Browser().ReplayTimeout)
	if restoreErr != nil {
		res.Error = restoreErr.Error()
	} else {
		res.Restored = true
		res.Matches = matches
		reached := dom.NewState(st.PageURL())
		if err := b.Capture(ctx, reached); err != nil {
			logger.Warn("Could not read the restored document.", zap.Error(err))
		} else {
			res.ReachedURL = reached.URL()
			res.ReachedDigest = reached.Digest()
		}
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	return restoreErr
}
