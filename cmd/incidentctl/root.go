package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	configPath string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:   "incidentctl",
		Short: "Detect and explain incidents in transaction telemetry",
		Long: `incidentctl runs the incident pipeline over CSV event tables.

Detectors flag anomalous time buckets, findings are correlated per bucket,
and every incident is annotated with root causes and playbooks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: $MIRADOR_INCIDENTS_CONFIG or built-in defaults)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newDetectCmd(a), newRulesCmd(a), newVersionCmd(a))
	return cmd
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	return cfg, nil
}

// logger writes to stderr so stdout stays machine readable.
func (a *app) logger(cfg *config.Config) *slog.Logger {
	return utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, a.stderr)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the incidentctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.stdout, "incidentctl %s\n", version)
			return err
		},
	}
}
