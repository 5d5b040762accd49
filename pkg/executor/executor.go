package executor

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// Execute replays ops against their source layers and destination writers.
// Ops are globally ordered by (dest, sort_key, source) and then grouped by
// source layer (original spec §4.5): each source group is handled
// sequentially by a single goroutine that, for each op in that order, opens
// a tar reader at the op's header offset. Within one source this writes a
// hardlink's referent before the link (files sort before hardlinks) and
// keeps the append order LayerWriter enforces internally. Distinct source
// groups run concurrently, bounded by workers.
func Execute(ctx context.Context, ops []Operation, sources SourceProvider, writers WriterProvider, workers int) error {
	sortOperations(ops)
	groups := groupBySource(ops)

	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	for key, sourceOps := range groups {
		source := tarentry.SourceLayerId(key)
		sourceOps := sourceOps
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()
			return executeSourceGroup(source, sourceOps, sources, writers)
		})
	}

	return g.Wait()
}

func executeSourceGroup(source tarentry.SourceLayerId, ops []Operation, sources SourceProvider, writers WriterProvider) error {
	layer, err := sources(source)
	if err != nil {
		return fmt.Errorf("opening source layer %d: %w", source, err)
	}

	for _, op := range ops {
		w, err := writers(op.Dest)
		if err != nil {
			return fmt.Errorf("opening destination layer %d: %w", op.Dest, err)
		}
		if err := executeOne(layer, op, w); err != nil {
			return fmt.Errorf("executing op (source=%d dest=%d offset=%d): %w", op.Source, op.Dest, op.HeaderOffset, err)
		}
	}
	return nil
}

func executeOne(layer SourceLayer, op Operation, w LayerWriter) error {
	tr := layer.OpenArchiveAt(int64(op.HeaderOffset))
	hdr, err := tr.Next()
	if err != nil {
		return fmt.Errorf("%w: reading tar header at offset %d: %v", repackerr.ErrInputMalformed, op.HeaderOffset, err)
	}

	switch op.Type {
	case OpWriteWhole:
		return w.CopyItem(hdr, tr)
	case OpWritePartial:
		clone := *hdr
		clone.Name = op.NewPath
		clone.Size = int64(op.Range.Len())

		if op.Range.Start > 0 {
			if _, err := io.CopyN(io.Discard, tr, int64(op.Range.Start)); err != nil {
				return fmt.Errorf("skipping to chunk start %d: %w", op.Range.Start, err)
			}
		}
		body := io.LimitReader(tr, int64(op.Range.Len()))
		return w.CopyPartialItem(&clone, op.NewPath, int64(op.Range.Len()), body)
	default:
		return fmt.Errorf("unknown operation type %d", op.Type)
	}
}
