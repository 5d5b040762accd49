package repack

import (
	"fmt"

	"github.com/orf/docker-repack/pkg/layerstore"
	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// storePayloadSource satisfies planner.PayloadSource by reading an item's
// byte range straight out of its decompressed, already-materialized source
// layer, which the adaptive packer feeds through its probe zstd stream.
type storePayloadSource struct {
	store *layerstore.Store
}

func (s *storePayloadSource) ReadPayload(item tarentry.TarItem, r planner.ByteRange) ([]byte, error) {
	layer, ok := s.store.Layer(item.LayerID)
	if !ok {
		return nil, fmt.Errorf("%w: no decompressed layer %d for payload read", repackerr.ErrInputMalformed, item.LayerID)
	}
	return layer.Slice(int64(item.DataOffset+r.Start), int64(r.Len()))
}
