package ociinput

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, dir string, data []byte) digest.Digest {
	t.Helper()
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	blobDir := filepath.Join(dir, "blobs", "sha256")
	require.NoError(t, os.MkdirAll(blobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blobDir, hexSum), data, 0o644))
	return digest.NewDigestFromBytes(digest.SHA256, sum[:])
}

func writeJSONBlob(t *testing.T, dir string, v any) digest.Digest {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return writeBlob(t, dir, data)
}

func writeIndex(t *testing.T, dir string, idx ispec.Index) {
	t.Helper()
	data, err := json.Marshal(idx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), data, 0o644))
}

func buildSingleManifestLayout(t *testing.T, dir string) {
	t.Helper()
	layerData := []byte("hello layer contents")
	layerDigest := writeBlob(t, dir, layerData)

	cfg := ispec.Image{OS: "linux", Architecture: "amd64"}
	cfgDigest := writeJSONBlob(t, dir, cfg)

	manifest := ispec.Manifest{
		MediaType: ispec.MediaTypeImageManifest,
		Config:    ispec.Descriptor{MediaType: ispec.MediaTypeImageConfig, Digest: cfgDigest, Size: 2},
		Layers: []ispec.Descriptor{
			{MediaType: ispec.MediaTypeImageLayerGzip, Digest: layerDigest, Size: int64(len(layerData))},
		},
	}
	manifestDigest := writeJSONBlob(t, dir, manifest)

	writeIndex(t, dir, ispec.Index{
		Manifests: []ispec.Descriptor{
			{MediaType: ispec.MediaTypeImageManifest, Digest: manifestDigest, Size: 1},
		},
	})
}

func TestReadLocalSingleManifest(t *testing.T) {
	dir := t.TempDir()
	buildSingleManifestLayout(t, dir)

	img, err := ReadLocal(dir, ReadLocalOptions{})
	require.NoError(t, err)
	assert.Equal(t, "linux", img.Config.OS)
	require.Len(t, img.Layers, 1)
	assert.Equal(t, ispec.MediaTypeImageLayerGzip, img.Layers[0].MediaType)

	rc, err := img.OpenLayer(0)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello layer contents", string(data))
}

func buildManifestListLayout(t *testing.T, dir string) (amd64Digest, arm64Digest digest.Digest) {
	t.Helper()

	mkManifest := func(arch string) digest.Digest {
		cfg := ispec.Image{OS: "linux", Architecture: arch}
		cfgDigest := writeJSONBlob(t, dir, cfg)
		manifest := ispec.Manifest{
			MediaType: ispec.MediaTypeImageManifest,
			Config:    ispec.Descriptor{MediaType: ispec.MediaTypeImageConfig, Digest: cfgDigest},
			Layers:    []ispec.Descriptor{},
		}
		return writeJSONBlob(t, dir, manifest)
	}

	amd64Digest = mkManifest("amd64")
	arm64Digest = mkManifest("arm64")

	writeIndex(t, dir, ispec.Index{
		Manifests: []ispec.Descriptor{
			{
				MediaType: ispec.MediaTypeImageManifest, Digest: amd64Digest,
				Platform: &ispec.Platform{OS: "linux", Architecture: "amd64"},
			},
			{
				MediaType: ispec.MediaTypeImageManifest, Digest: arm64Digest,
				Platform: &ispec.Platform{OS: "linux", Architecture: "arm64"},
			},
		},
	})
	return amd64Digest, arm64Digest
}

func TestReadLocalManifestListDefaultsToLinuxAmd64(t *testing.T) {
	dir := t.TempDir()
	buildManifestListLayout(t, dir)

	img, err := ReadLocal(dir, ReadLocalOptions{})
	require.NoError(t, err)
	assert.Equal(t, "amd64", img.Config.Architecture)
}

func TestReadLocalManifestListNarrowsByRequestedPlatform(t *testing.T) {
	dir := t.TempDir()
	buildManifestListLayout(t, dir)

	img, err := ReadLocal(dir, ReadLocalOptions{Platform: ispec.Platform{OS: "linux", Architecture: "arm64"}})
	require.NoError(t, err)
	assert.Equal(t, "arm64", img.Config.Architecture)
}

func TestReadLocalMissingIndexIsMalformed(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadLocal(dir, ReadLocalOptions{})
	assert.Error(t, err)
}

func TestReadLocalTagAnnotationSelectsManifest(t *testing.T) {
	dir := t.TempDir()
	cfg := ispec.Image{OS: "linux", Architecture: "amd64"}
	cfgDigest := writeJSONBlob(t, dir, cfg)
	manifest := ispec.Manifest{
		MediaType: ispec.MediaTypeImageManifest,
		Config:    ispec.Descriptor{MediaType: ispec.MediaTypeImageConfig, Digest: cfgDigest},
	}
	manifestDigest := writeJSONBlob(t, dir, manifest)

	writeIndex(t, dir, ispec.Index{
		Manifests: []ispec.Descriptor{
			{
				MediaType: ispec.MediaTypeImageManifest, Digest: manifestDigest,
				Annotations: map[string]string{"org.opencontainers.image.ref.name": "v1.0"},
			},
		},
	})

	img, err := ReadLocal(dir, ReadLocalOptions{Tag: "v1.0"})
	require.NoError(t, err)
	assert.Equal(t, "amd64", img.Config.Architecture)

	_, err = ReadLocal(dir, ReadLocalOptions{Tag: "missing"})
	assert.Error(t, err)
}
