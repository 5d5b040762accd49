package planner

import "github.com/orf/docker-repack/pkg/tarentry"

// packByRules bin-packs items (already in stable sorted order) using the
// online first-fit algorithm from original spec §4.4. useHardlinkRule and
// useDedupRule gate rules 1 and 2; Oversized chunks only ever use rule 3
// (capacity), since a split chunk is always a plain regular-file byte range
// — never a hardlink, and cross-chunk dedup is not a goal.
//
// externalBins are bins outside this packer's own partition (the Small
// "tiny-items" bin) that still participate in rule 1: a hardlink's target
// frequently lands in Small, and property 4 (original spec §8) must hold
// across that boundary, not just within this call's own bins.
func packByRules(items []PlannedItem, target uint64, useHardlinkRule, useDedupRule bool, nextID *int, externalBins []*LayerBin) []*LayerBin {
	var bins []*LayerBin

	for _, pi := range items {
		if useHardlinkRule && pi.Item.Kind == tarentry.KindHardLink {
			if b := findHardlinkTarget(externalBins, pi); b != nil {
				b.add(pi, true)
				continue
			}
		}

		bin := chooseBin(bins, pi, target, useHardlinkRule, useDedupRule)
		if bin == nil {
			bin = newBin(tarentry.NewLayerId(*nextID))
			*nextID++
			bins = append(bins, bin)
		}
		countBytes := true
		if useDedupRule && pi.Item.Kind == tarentry.KindFileNonEmpty && bin.hasHash(pi.Item.Hash) {
			countBytes = false
		}
		bin.add(pi, countBytes)
	}

	return bins
}

// findHardlinkTarget looks for pi's hardlink target among bins outside the
// current partition's own bin set (the Small bin).
func findHardlinkTarget(bins []*LayerBin, pi PlannedItem) *LayerBin {
	for _, b := range bins {
		if b.hasHardlinkTarget(pi.Item.LayerID, pi.Item.Target) {
			return b
		}
	}
	return nil
}

// chooseBin applies rules 1-3 in order, returning the chosen existing bin
// or nil to signal "open a new bin".
func chooseBin(bins []*LayerBin, pi PlannedItem, target uint64, useHardlinkRule, useDedupRule bool) *LayerBin {
	// Rule 1: hardlink locality.
	if useHardlinkRule && pi.Item.Kind == tarentry.KindHardLink {
		for _, b := range bins {
			if b.hasHardlinkTarget(pi.Item.LayerID, pi.Item.Target) {
				return b
			}
		}
	}

	// Rule 2: content dedup.
	if useDedupRule && pi.Item.Kind == tarentry.KindFileNonEmpty {
		for _, b := range bins {
			if b.hasHash(pi.Item.Hash) {
				return b
			}
		}
	}

	// Rule 3: capacity.
	size := pi.Range.Len()
	for _, b := range bins {
		if b.TotalSize+size <= target {
			return b
		}
	}

	return nil
}
