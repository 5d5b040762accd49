// Package planner assigns merged items to output layers under a
// compressed-size budget, respecting content-dedup and hardlink
// constraints, with optional oversized-file splitting (original spec §4.4,
// component D).
package planner

import (
	"github.com/orf/docker-repack/pkg/tarentry"
)

// ByteRange is a half-open [Start, End) byte range within an item's
// payload, used for oversized-file splitting.
type ByteRange struct {
	Start uint64
	End   uint64
}

func (r ByteRange) Len() uint64 { return r.End - r.Start }

// PlannedItem is one merged path together with the byte range of it this
// planner decision covers. For Small/Normal items Range covers the whole
// file; for Oversized items each chunk is a separate PlannedItem sharing
// the same Path and ContentHash.
type PlannedItem struct {
	Path        string
	Item        tarentry.TarItem
	Range       ByteRange
	IsChunk     bool
	SyntheticTo string // synthetic destination path for a chunk; "" otherwise
}

// LayerBin is planner state for one tentative output layer (original spec
// §3).
type LayerBin struct {
	ID tarentry.NewLayerId

	// hardlinkTargets records which (sourceLayer, path) referents already
	// live in this bin, so a later hardlink to the same referent is forced
	// here by rule 1.
	hardlinkTargets map[hardlinkKey]bool

	// hashes records which non-empty file content hashes already live in
	// this bin, so rule 2 can dedup without double-counting bytes.
	hashes map[tarentry.ContentHash]bool

	// Name labels the bin within the plan; empty for ordinary
	// Normal/Oversized bins, set to "tiny-items" for the Small bin so
	// EnsureTinyItemsBin can find it. It does not name the output layer.
	Name string

	Items     []PlannedItem
	TotalSize uint64
}

type hardlinkKey struct {
	layer tarentry.SourceLayerId
	path  string
}

func newBin(id tarentry.NewLayerId) *LayerBin {
	return &LayerBin{
		ID:              id,
		hardlinkTargets: make(map[hardlinkKey]bool),
		hashes:          make(map[tarentry.ContentHash]bool),
	}
}

func (b *LayerBin) hasHardlinkTarget(layer tarentry.SourceLayerId, path string) bool {
	return b.hardlinkTargets[hardlinkKey{layer, path}]
}

func (b *LayerBin) hasHash(h tarentry.ContentHash) bool {
	return b.hashes[h]
}

// add appends item to the bin. countBytes is false when the item is a
// dedup hit (rule 2). The first-fit packer adds rule-1 hardlinks with
// countBytes true, so they count their own size (zero for a tar hardlink
// entry); the referent's bytes were counted when it was added.
func (b *LayerBin) add(pi PlannedItem, countBytes bool) {
	b.Items = append(b.Items, pi)
	if countBytes {
		b.TotalSize += pi.Range.Len()
	}
	if pi.Item.Kind == tarentry.KindFileNonEmpty {
		b.hashes[pi.Item.Hash] = true
	}
	if pi.Item.IsRegularFile() {
		b.hardlinkTargets[hardlinkKey{pi.Item.LayerID, pi.Path}] = true
	}
}

// Plan is the full output of a planner run: one LayerBin per output layer,
// in creation order, plus the oversized chunks registered with the
// combiner.
type Plan struct {
	Bins   []*LayerBin
	Chunks []ChunkRecord
}

// ChunkRecord is one oversized-file chunk, registered for the file combiner
// (component G) keyed by the original file's content hash.
type ChunkRecord struct {
	ContentHash   tarentry.ContentHash
	OriginalPath  string
	SyntheticPath string
	Range         ByteRange
}
