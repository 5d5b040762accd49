package ociinput

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/containerd/platforms"
	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/repackerr"
)

// ReadLocalOptions configures ReadLocal.
type ReadLocalOptions struct {
	// Tag, when set, selects the manifest-list (or single) entry whose
	// "org.opencontainers.image.ref.name" annotation matches; otherwise
	// the index's only manifest is used, or a multi-manifest index is
	// narrowed by Platform.
	Tag string
	// Platform narrows a manifest-list (image index) to one manifest.
	// Zero value defaults to linux/amd64.
	Platform ispec.Platform
}

// ReadLocal reads a local OCI-layout directory, as produced by
// `skopeo copy`, `docker buildx build --output type=oci`, or `crane pull`,
// into a SourceImage. It does not require oci-layout's version field to
// match exactly; a missing or unreadable oci-layout file is tolerated since
// some producers omit it.
func ReadLocal(dir string, opts ReadLocalOptions) (*SourceImage, error) {
	verifyLayout(dir)

	idx, err := readIndex(dir)
	if err != nil {
		return nil, err
	}

	manifestDesc, err := selectManifest(idx, opts)
	if err != nil {
		return nil, err
	}

	manifest, err := readManifest(dir, manifestDesc.Digest)
	if err != nil {
		return nil, err
	}

	cfg, err := readConfig(dir, manifest.Config.Digest)
	if err != nil {
		return nil, err
	}

	layers := make([]LayerRef, len(manifest.Layers))
	for i, l := range manifest.Layers {
		codec, err := codecForMediaType(l.MediaType)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d: %w", repackerr.ErrInputMalformed, i, err)
		}
		layers[i] = LayerRef{Digest: l.Digest, Size: l.Size, MediaType: l.MediaType, Codec: codec}
	}

	platform := resolvedPlatform(manifestDesc.Platform, cfg)

	return &SourceImage{
		Config:   cfg,
		Platform: platform,
		Layers:   layers,
		open: func(d digest.Digest) (io.ReadCloser, error) {
			return os.Open(blobPath(dir, d))
		},
	}, nil
}

func verifyLayout(dir string) {
	data, err := os.ReadFile(filepath.Join(dir, ispec.ImageLayoutFile))
	if err != nil {
		return
	}
	var layout ispec.ImageLayout
	if err := json.Unmarshal(data, &layout); err != nil || layout.Version != ispec.ImageLayoutVersion {
		return
	}
}

func readIndex(dir string) (ispec.Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		return ispec.Index{}, fmt.Errorf("%w: reading index.json: %w", repackerr.ErrInputMalformed, err)
	}
	var idx ispec.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return ispec.Index{}, fmt.Errorf("%w: parsing index.json: %w", repackerr.ErrInputMalformed, err)
	}
	if len(idx.Manifests) == 0 {
		return ispec.Index{}, fmt.Errorf("%w: index.json lists no manifests", repackerr.ErrInputMalformed)
	}
	return idx, nil
}

// selectManifest picks exactly one manifest descriptor out of index.json:
// by tag annotation if requested, then by platform match against an
// image-index manifest list, falling back to the lone entry when the index
// carries only one manifest.
func selectManifest(idx ispec.Index, opts ReadLocalOptions) (ispec.Descriptor, error) {
	if opts.Tag != "" {
		for _, m := range idx.Manifests {
			if m.Annotations["org.opencontainers.image.ref.name"] == opts.Tag {
				return m, nil
			}
		}
		return ispec.Descriptor{}, fmt.Errorf("%w: no manifest tagged %q", repackerr.ErrInputMalformed, opts.Tag)
	}

	if len(idx.Manifests) == 1 {
		return idx.Manifests[0], nil
	}

	want := opts.Platform
	if want.OS == "" && want.Architecture == "" {
		want = ispec.Platform{OS: "linux", Architecture: "amd64"}
	}
	matcher := platforms.Only(want)
	for _, m := range idx.Manifests {
		if m.MediaType != ispec.MediaTypeImageManifest && m.MediaType != "application/vnd.docker.distribution.manifest.v2+json" {
			continue
		}
		if m.Platform == nil {
			continue
		}
		if matcher.Match(*m.Platform) {
			return m, nil
		}
	}
	return ispec.Descriptor{}, fmt.Errorf("%w: no manifest matches platform %s/%s",
		repackerr.ErrInputMalformed, want.OS, want.Architecture)
}

func readManifest(dir string, d digest.Digest) (ispec.Manifest, error) {
	data, err := os.ReadFile(blobPath(dir, d))
	if err != nil {
		return ispec.Manifest{}, fmt.Errorf("%w: reading manifest %s: %w", repackerr.ErrInputMalformed, d, err)
	}
	var m ispec.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return ispec.Manifest{}, fmt.Errorf("%w: parsing manifest %s: %w", repackerr.ErrInputMalformed, d, err)
	}
	return m, nil
}

func readConfig(dir string, d digest.Digest) (ispec.Image, error) {
	data, err := os.ReadFile(blobPath(dir, d))
	if err != nil {
		return ispec.Image{}, fmt.Errorf("%w: reading config %s: %w", repackerr.ErrInputMalformed, d, err)
	}
	var cfg ispec.Image
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ispec.Image{}, fmt.Errorf("%w: parsing config %s: %w", repackerr.ErrInputMalformed, d, err)
	}
	return cfg, nil
}

func blobPath(dir string, d digest.Digest) string {
	return filepath.Join(dir, "blobs", d.Algorithm().String(), d.Encoded())
}

func resolvedPlatform(fromManifest *ispec.Platform, cfg ispec.Image) ispec.Platform {
	if fromManifest != nil && fromManifest.OS != "" {
		return *fromManifest
	}
	if cfg.OS != "" {
		return ispec.Platform{OS: cfg.OS, Architecture: cfg.Architecture, Variant: cfg.Variant}
	}
	return ispec.Platform{OS: "linux", Architecture: "amd64"}
}
