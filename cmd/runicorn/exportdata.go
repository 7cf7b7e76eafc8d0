package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runicorn/runicorn/internal/metrics"
	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

// newExportDataCmd exports a single run's parsed metric series as CSV or
// JSON, independent of the full storage-root export/import pair — useful
// for feeding a run's numbers into a notebook or spreadsheet without
// standing up the Viewer.
func newExportDataCmd(storageOverride, configPath *string) *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "export-data RUN_ID",
		Short: "Export a run's metric series as CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if format != "csv" && format != "json" {
				return argErrorf("--format must be csv or json, got %q", format)
			}

			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			log, err := buildLogger(cfg.Viewer.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			root := storageRoot(cfg)
			gormDB, err := store.New(store.Config{Path: root.DB(), Logger: log, LogLevel: gormlogger.Error})
			if err != nil {
				return fmt.Errorf("open sqlite mirror: %w", err)
			}
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			exps := store.NewExperimentRepository(gormDB)
			exp, err := exps.Get(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("run %s not found: %w", runID, err)
			}

			cache, err := metrics.NewCache(1)
			if err != nil {
				return err
			}
			engine := metrics.NewEngine(cache, log)
			layout := runfs.New(exp.RunDir)
			rm, err := engine.Load(runID, layout.Events())
			if err != nil {
				return fmt.Errorf("load metrics: %w", err)
			}

			var w *os.File
			if output == "" || output == "-" {
				w = os.Stdout
			} else {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer w.Close()
			}

			if format == "json" {
				return json.NewEncoder(w).Encode(rm.Series)
			}
			return writeMetricsCSV(w, rm)
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or json")
	cmd.Flags().StringVar(&output, "output", "-", "output file path, or - for stdout")
	return cmd
}

func writeMetricsCSV(w *os.File, rm *metrics.RunMetrics) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"metric", "step", "timestamp", "value", "stage"}); err != nil {
		return err
	}
	for _, name := range rm.SortedNames() {
		s := rm.Series[name]
		for _, p := range s.Points {
			row := []string{
				name,
				strconv.FormatInt(p.Step, 10),
				strconv.FormatFloat(p.Timestamp, 'f', -1, 64),
				strconv.FormatFloat(p.Value, 'f', -1, 64),
				p.Stage,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}
