package imagewriter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// AssembleImage runs the finalize sequence: clone and patch the input
// config's rootfs.diff_ids/history, build the manifest, build a
// single-manifest index, and write oci-layout + index.json at outDir.
// written may be in any order; it is sorted by layer ID (output layer
// creation order) before use. createdBy
// annotates each synthesized history entry. When combinerScript is
// non-empty, it is injected at the head of the config's Entrypoint so the
// container reassembles split files before running its original command.
func AssembleImage(outDir string, baseConfig ispec.Image, written []*WrittenLayer, platform *ispec.Platform, createdBy string, combinerScript string) error {
	sorted := append([]*WrittenLayer(nil), written...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	cfg := baseConfig
	cfg.RootFS = ispec.RootFS{Type: "layers"}
	cfg.History = nil

	if combinerScript != "" {
		cfg.Config.Entrypoint = append([]string{combinerScript}, cfg.Config.Entrypoint...)
	}

	now := cfg.Created
	for _, wl := range sorted {
		cfg.RootFS.DiffIDs = append(cfg.RootFS.DiffIDs, wl.DiffID)
		cfg.History = append(cfg.History, ispec.History{
			Created:   now,
			CreatedBy: createdBy,
		})
	}

	blobDir := filepath.Join(outDir, "blobs")

	configBytes, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling image config: %w", err)
	}
	configDesc, err := writeBlob(blobDir, configBytes, ispec.MediaTypeImageConfig)
	if err != nil {
		return fmt.Errorf("writing image config blob: %w", err)
	}

	manifest := ispec.Manifest{
		MediaType:     ispec.MediaTypeImageManifest,
		SchemaVersion: 2,
		Config:        configDesc,
	}
	for _, wl := range sorted {
		manifest.Layers = append(manifest.Layers, wl.Descriptor)
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestDesc, err := writeBlob(blobDir, manifestBytes, ispec.MediaTypeImageManifest)
	if err != nil {
		return fmt.Errorf("writing manifest blob: %w", err)
	}
	manifestDesc.Platform = platform

	index := ispec.Index{
		MediaType:     ispec.MediaTypeImageIndex,
		SchemaVersion: 2,
		Manifests:     []ispec.Descriptor{manifestDesc},
	}

	if err := writeLayoutMarker(outDir); err != nil {
		return err
	}
	return writeIndexJSON(outDir, index)
}

// writeBlob hashes data and writes it to blobDir/sha256/<hex>, returning its
// descriptor. Unlike publishBlob (which moves a staged layer file) this is
// used for the small, wholly in-memory config and manifest blobs;
// index.json is written by writeIndexJSON at the layout root.
func writeBlob(blobDir string, data []byte, mediaType string) (ispec.Descriptor, error) {
	d := digest.FromBytes(data)
	destDir := filepath.Join(blobDir, "sha256")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ispec.Descriptor{}, err
	}
	dest := filepath.Join(destDir, d.Encoded())
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return ispec.Descriptor{}, fmt.Errorf("writing blob %s: %w", d, err)
	}
	return ispec.Descriptor{
		MediaType: mediaType,
		Digest:    d,
		Size:      int64(len(data)),
	}, nil
}

func writeLayoutMarker(outDir string) error {
	layout := ispec.ImageLayout{Version: ispec.ImageLayoutVersion}
	data, err := json.Marshal(layout)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, ispec.ImageLayoutFile), data, 0o644)
}

func writeIndexJSON(outDir string, index ispec.Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index.json: %w", err)
	}
	return os.WriteFile(filepath.Join(outDir, "index.json"), data, 0o644)
}

// DefaultPlatform is linux/amd64, the platform the input readers fall back
// to when none is requested. AssembleImage does not apply it; callers pass
// the platform explicitly.
var DefaultPlatform = ispec.Platform{OS: "linux", Architecture: "amd64"}
