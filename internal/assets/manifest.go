package assets

import (
	"github.com/runicorn/runicorn/internal/runfs"
)

// WriteManifest persists manifest as a run's assets.json, computing its
// digest over sorted (path, digest) pairs as the snapshot's fingerprint
//. This is a thin, named entry point over runfs so callers in
// internal/api don't need to reach into runfs directly for asset writes.
func WriteManifest(assetsJSONPath string, manifest *runfs.AssetsManifest) error {
	return runfs.WriteAssetsManifest(assetsJSONPath, manifest)
}

// ReadManifest loads a run's assets.json.
func ReadManifest(assetsJSONPath string) (*runfs.AssetsManifest, error) {
	return runfs.ReadAssetsManifest(assetsJSONPath)
}

// LiveDigests scans every run's (including recycle-bin) assets.json under
// a set of run directories and returns the union of referenced digests,
// suitable as blobstore.GC's live set.
func LiveDigests(runDirs []string, assetsFileName func(runDir string) string) (map[string]struct{}, error) {
	live := make(map[string]struct{})
	for _, dir := range runDirs {
		m, err := runfs.ReadAssetsManifest(assetsFileName(dir))
		if err != nil {
			continue
		}
		for _, e := range m.Entries {
			live[e.Digest] = struct{}{}
		}
	}
	return live, nil
}
