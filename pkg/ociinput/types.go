// Package ociinput reads a source image, whether a local OCI-layout
// directory or a remote registry reference, into the common SourceImage
// shape the rest of the pipeline consumes (original spec §4.9, component
// I, a Go-edition addition: the reference implementation only read from
// local OCI-layout directories).
package ociinput

import (
	"fmt"
	"io"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/layerstore"
)

// LayerRef describes one source layer's identity and encoding, without
// opening it; SourceImage.OpenLayer opens the blob lazily so callers can
// decompress layers in parallel without holding every blob open at once.
type LayerRef struct {
	Digest    digest.Digest
	Size      int64
	MediaType string
	Codec     layerstore.Codec
}

// SourceImage is the origin-independent view of one image manifest: its
// configuration, ordered layer list, and a blob opener.
type SourceImage struct {
	Config   ispec.Image
	Platform ispec.Platform
	Layers   []LayerRef

	open func(d digest.Digest) (io.ReadCloser, error)
}

// OpenLayer returns a reader over the layer's raw (still-encoded) bytes;
// the caller decompresses per LayerRef.Codec.
func (s *SourceImage) OpenLayer(i int) (io.ReadCloser, error) {
	if i < 0 || i >= len(s.Layers) {
		return nil, fmt.Errorf("ociinput: layer index %d out of range (0..%d)", i, len(s.Layers)-1)
	}
	return s.open(s.Layers[i].Digest)
}
