package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incidents/internal/cache"
	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/ingest"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/services"
)

func newDetectCmd(a *app) *cobra.Command {
	var (
		eventFiles []string
		summary    bool
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the incident pipeline over one or more CSV event files",
		Long: `Read every --events file, merge them into one batch and print the
incident report as JSON on stdout.`,
		Example: `  incidentctl detect --events data/transactions.csv --events data/system_metrics.csv --summary --pretty`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger := a.logger(cfg)

			tables := make([]*models.EventTable, 0, len(eventFiles))
			for _, path := range eventFiles {
				table, err := ingest.ReadCSVFile(path)
				if err != nil {
					return err
				}
				logger.Debug("events loaded", slog.String("source", table.Source), slog.Int("rows", table.Len()))
				tables = append(tables, table)
			}
			batch := tables[0]
			if len(tables) > 1 {
				batch = ingest.Merge("batch", tables...)
			}

			pipeline, err := engine.NewPipelineFromConfig(cfg, logger)
			if err != nil {
				return err
			}

			provider, err := cache.NewProvider(cfg.Cache)
			if err != nil {
				logger.Warn("report cache unavailable", slog.Any("error", err))
				provider = cache.NoopProvider{}
			}
			defer provider.Close()

			svc := services.NewIncidentService(logger, pipeline, provider, cfg.Cache.ResultTTL, services.WithLockTTL(cfg.Cache.LockTTL))
			data, err := svc.Detect(cmd.Context(), batch, summary)
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}

			if pretty {
				var buf bytes.Buffer
				if err := json.Indent(&buf, data, "", "  "); err != nil {
					return fmt.Errorf("format report: %w", err)
				}
				data = buf.Bytes()
			}
			_, err = fmt.Fprintln(a.stdout, string(data))
			return err
		},
	}

	cmd.Flags().StringArrayVar(&eventFiles, "events", nil, "CSV event file (repeatable)")
	cmd.Flags().BoolVar(&summary, "summary", false, "include a run summary in the report")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON report")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}
