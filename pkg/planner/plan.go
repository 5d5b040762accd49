package planner

import (
	"fmt"

	"github.com/orf/docker-repack/pkg/merge"
	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// TinyItemsLayerName labels the Small bin, the layer the file combiner
// (component G) writes its artifacts into; EnsureTinyItemsBin finds that
// bin by this label. Output layers themselves carry no name.
const TinyItemsLayerName = "tiny-items"

// Run plans a full repack: it partitions merged's items, bin-packs the
// Normal partition with the selected packer, lumps every Small item into
// one "tiny-items" bin (still deduping repeated content within it), and
// capacity-packs Oversized chunks into their own bins, registering each
// chunk with the combiner.
func Run(merged *merge.MergedContent, opts Options, source PayloadSource) (*Plan, error) {
	if opts.TargetSize == 0 {
		return nil, fmt.Errorf("%w: target size must be non-zero", repackerr.ErrUnreachableTarget)
	}

	parts := partition(merged, opts)
	nextID := 0
	var bins []*LayerBin

	var smallBin *LayerBin
	if len(parts.Small) > 0 {
		id := tarentry.NewLayerId(nextID)
		nextID++
		smallBin = newBin(id)
		smallBin.Name = TinyItemsLayerName
		for _, pi := range parts.Small {
			countBytes := pi.Item.Kind != tarentry.KindFileNonEmpty || !smallBin.hasHash(pi.Item.Hash)
			smallBin.add(pi, countBytes)
		}
		bins = append(bins, smallBin)
	}

	// The Normal packer must see the Small bin too: a hardlink's target is
	// frequently a small file, and rule 1 (hardlink locality, testable
	// property 4 in original spec §8) applies across the Small/Normal
	// partition boundary, not just within the Normal partition's own bins.
	normalBins, err := packNormal(parts.Normal, opts, source, &nextID, smallBin)
	if err != nil {
		return nil, err
	}
	bins = append(bins, normalBins...)

	if len(parts.Oversized) > 0 {
		oversizedBins := packByRules(parts.Oversized, opts.TargetSize, false, false, &nextID, nil)
		bins = append(bins, oversizedBins...)
	}

	var chunks []ChunkRecord
	for _, pi := range parts.Oversized {
		chunks = append(chunks, ChunkRecord{
			ContentHash:   pi.Item.Hash,
			OriginalPath:  pi.Path,
			SyntheticPath: pi.SyntheticTo,
			Range:         pi.Range,
		})
	}

	if err := checkCapacity(bins, opts); err != nil {
		return nil, err
	}

	return &Plan{Bins: bins, Chunks: chunks}, nil
}

// EnsureTinyItemsBin returns the plan's "tiny-items" bin, appending an empty
// one (with the next free layer id) if splitting produced combiner chunks
// but no file was Small enough to have created the bin on its own.
func EnsureTinyItemsBin(plan *Plan) *LayerBin {
	for _, b := range plan.Bins {
		if b.Name == TinyItemsLayerName {
			return b
		}
	}
	maxID := -1
	for _, b := range plan.Bins {
		if int(b.ID) > maxID {
			maxID = int(b.ID)
		}
	}
	bin := newBin(tarentry.NewLayerId(maxID + 1))
	bin.Name = TinyItemsLayerName
	plan.Bins = append(plan.Bins, bin)
	return bin
}

func packNormal(items []PlannedItem, opts Options, source PayloadSource, nextID *int, smallBin *LayerBin) ([]*LayerBin, error) {
	if opts.Kind == KindAdaptive {
		p := &AdaptivePacker{Source: source}
		return p.packNormal(items, opts, nextID, smallBin)
	}
	var externalHardlinkBins []*LayerBin
	if smallBin != nil {
		externalHardlinkBins = []*LayerBin{smallBin}
	}
	return packByRules(items, opts.TargetSize, true, true, nextID, externalHardlinkBins), nil
}

// checkCapacity enforces property 3 (original spec §8) on first-fit bins: a
// bin may exceed the target only when its first item alone does. Rule 3
// adds counted bytes to an occupied bin only while TotalSize stays within
// target, rule 2 dedup hits add none, and rule 1 hardlinks add their own
// size (zero for a tar hardlink entry), so an over-budget singleton may
// still gain hardlinks and duplicates. The Small "tiny-items" bin has no
// budget and is skipped; adaptive bins are budgeted by estimated
// compressed size, so their uncompressed TotalSize is not compared.
func checkCapacity(bins []*LayerBin, opts Options) error {
	if opts.Kind == KindAdaptive {
		return nil
	}
	for _, b := range bins {
		if b.Name == TinyItemsLayerName || len(b.Items) == 0 {
			continue
		}
		if b.TotalSize > opts.TargetSize && b.TotalSize > b.Items[0].Range.Len() {
			return fmt.Errorf("%w: bin %d holds %d items totalling %d bytes over target %d",
				repackerr.ErrDuplicateAssignment, b.ID, len(b.Items), b.TotalSize, opts.TargetSize)
		}
	}
	return nil
}
