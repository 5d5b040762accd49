package ociinput

import (
	"fmt"

	dockerspec "github.com/moby/docker-image-spec/specs-go/v1"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/layerstore"
)

// Pre-1.1 OCI image-spec non-distributable ("foreign") layer media types;
// the image-spec v1.1 constants for these were removed from the package,
// but images built against older spec versions still carry them, so they
// are matched here as literal strings rather than symbolic constants.
const (
	mediaTypeImageLayerNonDistributable     = "application/vnd.oci.image.layer.nondistributable.v1.tar"
	mediaTypeImageLayerNonDistributableGzip = "application/vnd.oci.image.layer.nondistributable.v1.tar+gzip"
	mediaTypeImageLayerNonDistributableZstd = "application/vnd.oci.image.layer.nondistributable.v1.tar+zstd"
)

// codecForMediaType normalizes every layer media type named in original
// spec §6 — OCI tar/gzip/zstd, their non-distributable ("foreign")
// variants, and the legacy Docker schema2 equivalents — to the
// compression codec the decompressed-layer store understands.
func codecForMediaType(mediaType string) (layerstore.Codec, error) {
	switch mediaType {
	case ispec.MediaTypeImageLayer,
		mediaTypeImageLayerNonDistributable,
		dockerspec.MediaTypeDockerSchema2Layer,
		dockerspec.MediaTypeDockerSchema2LayerForeign:
		return layerstore.CodecNone, nil

	case ispec.MediaTypeImageLayerGzip,
		mediaTypeImageLayerNonDistributableGzip,
		dockerspec.MediaTypeDockerSchema2LayerGzip,
		dockerspec.MediaTypeDockerSchema2LayerForeignGzip:
		return layerstore.CodecGzip, nil

	case ispec.MediaTypeImageLayerZstd,
		mediaTypeImageLayerNonDistributableZstd:
		return layerstore.CodecZstd, nil

	default:
		return 0, fmt.Errorf("ociinput: unsupported layer media type %q", mediaType)
	}
}
