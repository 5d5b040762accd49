package planner

import (
	"sort"

	"github.com/orf/docker-repack/pkg/merge"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// partitioned holds the three classes original spec §4.4 divides merged
// items into.
type partitioned struct {
	Small     []PlannedItem
	Normal    []PlannedItem
	Oversized []PlannedItem
}

// partition classifies every path in merged into Small, Normal, or
// Oversized, splitting Oversized files into chunks of at most
// opts.SplitThreshold bytes when splitting is enabled.
func partition(merged *merge.MergedContent, opts Options) partitioned {
	var p partitioned

	merged.Paths.Each(func(path string, item tarentry.TarItem) bool {
		switch {
		case opts.SplitThreshold > 0 && item.IsRegularFile() && item.Size >= opts.SplitThreshold:
			for _, r := range byteRangeChunks(item.Size, opts.SplitThreshold) {
				p.Oversized = append(p.Oversized, PlannedItem{
					Path:        path,
					Item:        item,
					Range:       r,
					IsChunk:     true,
					SyntheticTo: syntheticChunkPath(path, r),
				})
			}

		case isSmall(item):
			p.Small = append(p.Small, PlannedItem{Path: path, Item: item, Range: ByteRange{0, item.Size}})

		default:
			p.Normal = append(p.Normal, PlannedItem{Path: path, Item: item, Range: ByteRange{0, item.Size}})
		}
		return true
	})

	sortStable(p.Normal)
	sortStable(p.Oversized)
	return p
}

// isSmall reports whether item belongs to the Small partition: a regular
// file of at most SmallThreshold bytes, or any symlink/directory.
func isSmall(item tarentry.TarItem) bool {
	switch item.Kind {
	case tarentry.KindDirectory, tarentry.KindSymlink:
		return true
	case tarentry.KindFileEmpty:
		return true
	case tarentry.KindFileNonEmpty:
		return item.Size <= SmallThreshold
	default:
		return false
	}
}

// sortStable orders items kind-first (directories < symlinks < files <
// hardlinks) then by path, so a stable visitation order places every
// hardlink's referent before the link itself (original spec §4.4, §9).
func sortStable(items []PlannedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Item.Kind.SortRank(), items[j].Item.Kind.SortRank()
		if ri != rj {
			return ri < rj
		}
		return items[i].Path < items[j].Path
	})
}
