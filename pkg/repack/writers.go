package repack

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orf/docker-repack/pkg/executor"
	"github.com/orf/docker-repack/pkg/imagewriter"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// writerRegistry lazily creates one imagewriter.LayerWriter per destination
// layer id, the first time the executor (or the combiner) asks for it, and
// remembers every writer it created so the caller can Finish them all once
// execution completes.
type writerRegistry struct {
	stageDir string

	mu      sync.Mutex
	writers map[tarentry.NewLayerId]*imagewriter.LayerWriter
}

func newWriterRegistry(stageDir string) *writerRegistry {
	return &writerRegistry{stageDir: stageDir, writers: make(map[tarentry.NewLayerId]*imagewriter.LayerWriter)}
}

// get returns the writer for dest, creating it on first use. Safe for
// concurrent use by the executor's per-source-group goroutines.
func (r *writerRegistry) get(dest tarentry.NewLayerId) (*imagewriter.LayerWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.writers[dest]; ok {
		return w, nil
	}
	w, err := imagewriter.NewLayerWriter(dest, r.stageDir)
	if err != nil {
		return nil, fmt.Errorf("creating output layer %d: %w", dest, err)
	}
	r.writers[dest] = w
	return w, nil
}

// provider adapts get to executor.WriterProvider.
func (r *writerRegistry) provider(dest tarentry.NewLayerId) (executor.LayerWriter, error) {
	return r.get(dest)
}

// finishAll finishes every created writer in ascending layer-id order,
// publishing each to blobDir.
func (r *writerRegistry) finishAll(blobDir string, compress bool, level int) ([]*imagewriter.WrittenLayer, error) {
	r.mu.Lock()
	ids := make([]tarentry.NewLayerId, 0, len(r.writers))
	for id := range r.writers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	written := make([]*imagewriter.WrittenLayer, 0, len(ids))
	for _, id := range ids {
		wl, err := r.writers[id].Finish(blobDir, compress, level)
		if err != nil {
			return nil, fmt.Errorf("finishing output layer %d: %w", id, err)
		}
		written = append(written, wl)
	}
	return written, nil
}
