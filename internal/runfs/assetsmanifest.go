package runfs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// AssetEntry is one file tracked by a run's code snapshot or logged media,
// addressed by content digest into the shared blob store.
type AssetEntry struct {
	Path   string `json:"path"`   // relative to the run directory
	Digest string `json:"digest"` // sha256 hex, matches blobstore's addressing
	Size   int64  `json:"size"`
	Mode   uint32 `json:"mode"`
}

// AssetsManifest mirrors assets.json: the inventory of every file the
// archive must be able to restore, plus a manifest digest covering the
// sorted (path, digest) pairs so two manifests can be compared cheaply.
type AssetsManifest struct {
	ManifestDigest string       `json:"manifest_digest"`
	Entries        []AssetEntry `json:"entries"`
}

// ReadAssetsManifest loads assets.json, returning an empty manifest if the
// file does not yet exist (a run may not have snapshotted anything yet).
func ReadAssetsManifest(path string) (*AssetsManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AssetsManifest{}, nil
		}
		return nil, fmt.Errorf("runfs: read assets manifest: %w", err)
	}
	var m AssetsManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("runfs: parse assets manifest: %w", err)
	}
	return &m, nil
}

// WriteAssetsManifest atomically overwrites assets.json (write-temp, fsync,
// rename), sorting entries by path first so the manifest digest and the
// file content are both order-independent of however the caller collected
// entries.
func WriteAssetsManifest(path string, m *AssetsManifest) error {
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })
	m.ManifestDigest = computeManifestDigest(m.Entries)
	return atomicWriteJSON(path, m)
}

// computeManifestDigest hashes the sorted sequence of "path\x00digest\n"
// records, giving a single digest that changes if any entry's path or
// content digest changes, independent of entry ordering in memory.
func computeManifestDigest(entries []AssetEntry) string {
	sorted := make([]AssetEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, e := range sorted {
		h.Write([]byte(e.Path))
		h.Write([]byte{0})
		h.Write([]byte(e.Digest))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
