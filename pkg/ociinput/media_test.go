package ociinput

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orf/docker-repack/pkg/layerstore"
)

func TestCodecForMediaTypeCoversOCIAndDockerVariants(t *testing.T) {
	cases := []struct {
		mediaType string
		want      layerstore.Codec
	}{
		{"application/vnd.oci.image.layer.v1.tar", layerstore.CodecNone},
		{"application/vnd.oci.image.layer.v1.tar+gzip", layerstore.CodecGzip},
		{"application/vnd.oci.image.layer.v1.tar+zstd", layerstore.CodecZstd},
		{mediaTypeImageLayerNonDistributable, layerstore.CodecNone},
		{mediaTypeImageLayerNonDistributableGzip, layerstore.CodecGzip},
		{"application/vnd.docker.image.rootfs.diff.tar.gzip", layerstore.CodecGzip},
		{"application/vnd.docker.image.rootfs.foreign.diff.tar.gzip", layerstore.CodecGzip},
	}
	for _, c := range cases {
		got, err := codecForMediaType(c.mediaType)
		require.NoError(t, err, c.mediaType)
		assert.Equal(t, c.want, got, c.mediaType)
	}
}

func TestCodecForMediaTypeRejectsUnknown(t *testing.T) {
	_, err := codecForMediaType("application/x-made-up")
	assert.Error(t, err)
}
