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

	"github.com/runicorn/runicorn/internal/runfs"
)

// newExportCmd packs one or more run directories into a single gzipped
// tar archive an operator can move between machines or archive offline.
// No corpus dependency covers archive packing (see DESIGN.md), so this
// uses archive/tar + compress/gzip directly.
func newExportCmd(storageOverride, configPath *string) *cobra.Command {
	var output string
	var pathPrefix string

	cmd := &cobra.Command{
		Use:   "export [RUN_ID...]",
		Short: "Export run directories as a gzipped tar archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			root := storageRoot(cfg)

			runDirs, err := root.DiscoverRunDirs()
			if err != nil {
				return fmt.Errorf("discover run dirs: %w", err)
			}

			selected := filterRunDirs(root, runDirs, args, pathPrefix)
			if len(selected) == 0 {
				return argErrorf("no matching run directories found")
			}

			if output == "" {
				return argErrorf("--output is required")
			}
			out, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output archive: %w", err)
			}
			defer out.Close()

			gz := gzip.NewWriter(out)
			defer gz.Close()
			tw := tar.NewWriter(gz)
			defer tw.Close()

			for _, dir := range selected {
				rel, err := filepath.Rel(root.Dir, dir)
				if err != nil {
					return err
				}
				if err := addDirToTar(tw, dir, rel); err != nil {
					return fmt.Errorf("archive %s: %w", dir, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d run directories to %s\n", len(selected), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "destination .tar.gz file path")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "only export runs under this path prefix")
	return cmd
}

// filterRunDirs narrows runDirs to those whose run_id was named in
// runIDs (when non-empty) and whose path-relative directory starts with
// pathPrefix (when non-empty). With neither filter, every run is kept.
func filterRunDirs(root runfs.StorageRoot, runDirs, runIDs []string, pathPrefix string) []string {
	wantIDs := make(map[string]bool, len(runIDs))
	for _, id := range runIDs {
		wantIDs[id] = true
	}

	var out []string
	for _, dir := range runDirs {
		if len(wantIDs) > 0 && !wantIDs[filepath.Base(dir)] {
			continue
		}
		if pathPrefix != "" {
			rel, err := filepath.Rel(root.Dir, filepath.Dir(dir))
			if err != nil || !strings.HasPrefix(filepath.ToSlash(rel), pathPrefix) {
				continue
			}
		}
		out = append(out, dir)
	}
	return out
}

// addDirToTar walks dir and writes each regular file and directory entry
// into tw with archive-relative paths rooted at relBase.
func addDirToTar(tw *tar.Writer, dir, relBase string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(relBase, rel))

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
