package merge

import (
	"fmt"
	"strings"

	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// Stats accumulates running counts as layers fold into a MergedContent,
// per original spec §3.
type Stats struct {
	Added        uint64
	Removed      uint64
	Excluded     uint64
	AddedBytes   uint64
	RemovedBytes uint64
}

// MergedContent is the result of folding a sequence of source layers: a
// path→TarItem map plus running counts.
type MergedContent struct {
	Paths *PathMap
	Stats Stats
}

// NewMergedContent returns an empty merged content map.
func NewMergedContent() *MergedContent {
	return &MergedContent{Paths: NewPathMap()}
}

// FoldLayer applies one source layer's items against the running merged
// content, per original spec §4.2. Within a single layer, every RemoveFile
// is applied, then every RemovePrefix, then every Add — so an Add and a
// whiteout of the same path within one layer always resolve to the Add
// winning, since the whiteout pass only ever sees the snapshot left by
// earlier layers (see SPEC_FULL.md §4.2, resolved open question).
func (m *MergedContent) FoldLayer(items []tarentry.TarItem) error {
	ops := make([]Operation, len(items))
	for i, it := range items {
		ops[i] = Classify(it)
	}

	for _, op := range ops {
		if op.Kind != OpRemoveFile {
			continue
		}
		if err := m.removeFile(op.TargetPath); err != nil {
			return err
		}
	}

	for _, op := range ops {
		if op.Kind != OpRemovePrefix {
			continue
		}
		m.removePrefix(op.DirPrefix)
	}

	for _, op := range ops {
		if op.Kind != OpAdd {
			continue
		}
		m.add(op.Item)
	}

	return nil
}

func (m *MergedContent) removeFile(target string) error {
	if old, ok := m.Paths.Delete(target); ok {
		m.Stats.Removed++
		m.Stats.RemovedBytes += old.Size
		return nil
	}
	if !strings.HasSuffix(target, "/") {
		if old, ok := m.Paths.Delete(target + "/"); ok {
			m.Stats.Removed++
			m.Stats.RemovedBytes += old.Size
			return nil
		}
	}
	return fmt.Errorf("%w: %s", repackerr.ErrWhiteoutMissingTarget, target)
}

// removePrefix erases every path under dirPrefix present in the snapshot at
// the time it's called — the opaque marker's effect, a range-scan from
// dirPrefix (exclusive) forward until the first key that does not start
// with it.
func (m *MergedContent) removePrefix(dirPrefix string) {
	var toDelete []string
	m.Paths.AscendGreaterThan(dirPrefix, func(path string, item tarentry.TarItem) bool {
		if !strings.HasPrefix(path, dirPrefix) {
			return false
		}
		toDelete = append(toDelete, path)
		return true
	})
	for _, path := range toDelete {
		if old, ok := m.Paths.Delete(path); ok {
			m.Stats.Removed++
			m.Stats.RemovedBytes += old.Size
		}
	}
}

func (m *MergedContent) add(item tarentry.TarItem) {
	if old, hadOld := m.Paths.Set(item.Path, item); hadOld {
		m.Stats.Removed++
		m.Stats.RemovedBytes += old.Size
	}
	m.Stats.Added++
	m.Stats.AddedBytes += item.Size
}
