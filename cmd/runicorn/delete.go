package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runicorn/runicorn/internal/store"
)

// newDeleteCmd implements the operator escape hatch: permanently remove a
// run's database row and on-disk directory, bypassing the recycle bin
// entirely. Intended for runs an operator wants gone immediately, not for
// the everyday soft-delete flow the Viewer's API exposes.
func newDeleteCmd(storageOverride, configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Permanently delete a run's row and directory, bypassing the recycle bin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if !yes {
				return argErrorf("refusing to hard-delete %s without --yes", runID)
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
			gormDB, err := store.New(store.Config{
				Path:     root.DB(),
				Logger:   log,
				LogLevel: gormlogger.Error,
			})
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

			if exp.RunDir != "" {
				if err := os.RemoveAll(exp.RunDir); err != nil {
					log.Warn("failed to remove run directory", zap.String("run_id", runID), zap.Error(err))
				}
			}
			if err := exps.HardDelete(cmd.Context(), runID); err != nil {
				return fmt.Errorf("hard delete row: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", runID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the permanent, unrecoverable deletion")
	return cmd
}
