// Package imagewriter streams planned entries into output tar layers and,
// once every layer is finished, assembles the output OCI directory: blobs,
// oci-layout, a patched image configuration, the manifest, and the index
// (original spec §4.6, component F).
package imagewriter

import (
	"github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/tarentry"
)

// WrittenLayer is the result of finishing one output layer: its diff_id
// (the digest of the uncompressed tar stream, which rootfs.diff_ids needs
// unconditionally) and the descriptor of the blob actually stored on disk
// (compressed, unless compression was skipped).
type WrittenLayer struct {
	ID         tarentry.NewLayerId
	DiffID     digest.Digest
	Descriptor ispec.Descriptor
}
