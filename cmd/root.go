// Package cmd implements the scalpel-audit command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// errNoConfig means a subcommand ran without the root command's setup.
var errNoConfig = errors.New("configuration not found in context")

// newRootCmd builds the command tree. Every call returns an independent tree.
func newRootCmd(provider storeProvider) *cobra.Command {
	var cfgFile, metricsFile string

	root := &cobra.Command{
		Use:           "scalpel-audit",
		Short:         "Element-level web audits and DOM state replay.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := readConfigFile(v, cfgFile); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-audit"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting scalpel-audit", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sink, err := newMetricsSink(metricsFile)
			if err != nil {
				return err
			}
			ctx = context.WithValue(ctx, configKey, cfg)
			cmd.SetContext(context.WithValue(ctx, metricsKey, sink))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			sink, _ := cmd.Context().Value(metricsKey).(*metricsSink)
			return sink.write()
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write audit counters here in the Prometheus text format")
	root.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	root.AddCommand(
		newProbeCmd(provider),
		newAuditCmd(provider),
		newRestoreCmd(),
		newIssuesCmd(provider),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := newRootCmd(NewStoreProvider())
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

// readConfigFile reads cfgFile, or ./config.yaml if it exists.
func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errNoConfig
	}
	return cfg, nil
}
