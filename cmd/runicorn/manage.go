package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runicorn/runicorn/internal/assets"
	"github.com/runicorn/runicorn/internal/blobstore"
	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

// newManageCmd groups the maintenance operations an operator runs by hand
// or from cron, independent of the long-lived viewer process: forcing a
// reconciliation pass, garbage-collecting unreferenced blobs, and
// verifying blob integrity.
func newManageCmd(storageOverride, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Maintenance operations: reconcile, gc, fsck",
	}

	cmd.AddCommand(newManageReconcileCmd(storageOverride, configPath))
	cmd.AddCommand(newManageGCCmd(storageOverride, configPath))
	cmd.AddCommand(newManageFsckCmd(storageOverride, configPath))

	return cmd
}

func newManageReconcileCmd(storageOverride, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-now",
		Short: "Force an immediate reconciliation of the SQLite mirror against the filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			gormDB, err := store.OpenWithRecovery(store.Config{Path: root.DB(), Logger: log, LogLevel: gormlogger.Error})
			if err != nil {
				return err
			}
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			exps := store.NewExperimentRepository(gormDB)
			metricRows := store.NewMetricRepository(gormDB)
			envs := store.NewEnvironmentRepository(gormDB)
			files := store.NewFileRepository(gormDB)

			rc := store.NewReconciler(root, exps, metricRows, envs, files, log)
			if err := rc.Tick(cmd.Context()); err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reconciliation complete")
			return nil
		},
	}
}

func newManageGCCmd(storageOverride, configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove blobs in the archive no longer referenced by any run's assets.json",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			blobs, err := blobstore.New(root.Archive(), log)
			if err != nil {
				return err
			}

			runDirs, err := root.DiscoverRunDirs()
			if err != nil {
				return fmt.Errorf("discover run dirs: %w", err)
			}
			recycled, err := recycleBinRunDirs(root)
			if err != nil {
				return fmt.Errorf("discover recycle bin dirs: %w", err)
			}
			runDirs = append(runDirs, recycled...)

			live, err := assets.LiveDigests(runDirs, func(dir string) string {
				return runfs.New(dir).AssetsManifest()
			})
			if err != nil {
				return fmt.Errorf("collect live digests: %w", err)
			}

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "dry run: %d run directories scanned, %d live digests\n", len(runDirs), len(live))
				return nil
			}

			removed, freed, err := blobs.GC(blobstore.LiveSet(live))
			if err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "gc complete: removed %d blobs, freed %d bytes\n", removed, freed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report how many run directories and live digests were found, without deleting anything")
	return cmd
}

func newManageFsckCmd(storageOverride, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Verify every blob's digest matches its content, quarantining mismatches",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			blobs, err := blobstore.New(root.Archive(), log)
			if err != nil {
				return err
			}

			runDirs, err := root.DiscoverRunDirs()
			if err != nil {
				return err
			}
			recycled, err := recycleBinRunDirs(root)
			if err != nil {
				return err
			}
			runDirs = append(runDirs, recycled...)

			live, err := assets.LiveDigests(runDirs, func(dir string) string {
				return runfs.New(dir).AssetsManifest()
			})
			if err != nil {
				return err
			}

			var checked, bad int
			for digest := range live {
				checked++
				ok, err := blobs.Verify(digest)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "digest %s: %v\n", digest, err)
					continue
				}
				if !ok {
					bad++
					if qErr := blobs.Quarantine(digest); qErr != nil {
						log.Warn("quarantine failed", zap.String("digest", digest), zap.Error(qErr))
					}
					fmt.Fprintf(cmd.OutOrStdout(), "quarantined corrupt blob %s\n", digest)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fsck complete: %d checked, %d quarantined\n", checked, bad)
			return nil
		},
	}
	return cmd
}

// recycleBinRunDirs lists the soft-deleted run directories directly under
// the recycle bin root, since DiscoverRunDirs deliberately skips that
// subtree (it is not part of the path-hierarchy namespace).
func recycleBinRunDirs(root runfs.StorageRoot) ([]string, error) {
	entries, err := os.ReadDir(root.RecycleBin())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root.RecycleBin(), e.Name()))
		}
	}
	return dirs, nil
}
