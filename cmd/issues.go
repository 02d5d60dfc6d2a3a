package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
)

func newIssuesCmd(provider storeProvider) *cobra.Command {
	var scanID string

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Print the issues stored for a scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runIssues(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, scanID, provider)
		},
	}

	cmd.Flags().StringVar(&scanID, "scan-id", "", "the scan whose issues to print (required)")
	_ = cmd.MarkFlagRequired("scan-id")
	return cmd
}

func runIssues(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, scanID string, provider storeProvider) error {
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	issues, err := s.GetIssuesByScanID(ctx, scanID)
	if err != nil {
		logger.Error("Failed to load issues", zap.Error(err), zap.String("scan_id", scanID))
		return fmt.Errorf("failed to load issues: %w", err)
	}
	logger.Debug("Loaded stored issues.", zap.String("scan_id", scanID), zap.Int("count", len(issues)))
	return printJSON(out, results.NewReport(scanID, issues))
}
