package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runicorn/runicorn/internal/store"
)

// newImportCmd unpacks an archive produced by export into the storage
// root, then triggers a reconciliation pass so the imported runs appear
// in the SQLite mirror immediately instead of waiting for the next
// watcher tick.
func newImportCmd(storageOverride, configPath *string) *cobra.Command {
	var input string
	var skipReconcile bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import run directories from an archive produced by export",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return argErrorf("--input is required")
			}

			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			root := storageRoot(cfg)
			if err := os.MkdirAll(root.Dir, 0o755); err != nil {
				return fmt.Errorf("create storage root: %w", err)
			}

			in, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer in.Close()

			gz, err := gzip.NewReader(in)
			if err != nil {
				return fmt.Errorf("read gzip header: %w", err)
			}
			defer gz.Close()

			imported, err := extractTar(gz, root.Dir)
			if err != nil {
				return fmt.Errorf("extract archive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries into %s\n", imported, root.Dir)

			if skipReconcile {
				return nil
			}

			log, err := buildLogger(cfg.Viewer.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			gormDB, err := store.OpenWithRecovery(store.Config{Path: root.DB(), Logger: log, LogLevel: gormlogger.Error})
			if err != nil {
				return err
			}
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			rc := store.NewReconciler(root,
				store.NewExperimentRepository(gormDB),
				store.NewMetricRepository(gormDB),
				store.NewEnvironmentRepository(gormDB),
				store.NewFileRepository(gormDB),
				log)
			if err := rc.Tick(cmd.Context()); err != nil {
				return fmt.Errorf("post-import reconcile: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reconciliation complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "source .tar.gz archive path")
	cmd.Flags().BoolVar(&skipReconcile, "skip-reconcile", false, "do not reconcile the SQLite mirror after extraction")
	return cmd
}

// extractTar extracts every entry in r under destRoot, rejecting any path
// that would escape destRoot, and returns the number of entries written.
func extractTar(r io.Reader, destRoot string) (int, error) {
	tr := tar.NewReader(r)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		target := filepath.Join(destRoot, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(destRoot, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return count, fmt.Errorf("refusing to extract entry outside storage root: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return count, err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return count, err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return count, err
			}
			f.Close()
		default:
			continue
		}
		count++
	}
}
