package merge

import (
	"strings"

	"github.com/orf/docker-repack/pkg/tarentry"
)

// OperationKind discriminates the three whiteout-aware classifications an
// item's basename can produce (original spec §3).
type OperationKind int

const (
	OpAdd OperationKind = iota
	OpRemoveFile
	OpRemovePrefix
)

const (
	opaqueMarker    = ".wh..wh..opq"
	whiteoutPrefix  = ".wh."
)

// Operation is the classification of one TarItem, derived from its path's
// basename.
type Operation struct {
	Kind OperationKind
	Item tarentry.TarItem

	// TargetPath is set for OpRemoveFile: the path to remove.
	TargetPath string

	// DirPrefix is set for OpRemovePrefix: the parent directory with a
	// trailing slash, whose prior contents are erased.
	DirPrefix string
}

// Classify derives an Operation from item's basename per original spec §3.
func Classify(item tarentry.TarItem) Operation {
	base := item.Basename()
	dir := parentDir(item.Path)

	if base == opaqueMarker {
		return Operation{Kind: OpRemovePrefix, Item: item, DirPrefix: dir}
	}
	if strings.HasPrefix(base, whiteoutPrefix) {
		target := dir + base[len(whiteoutPrefix):]
		return Operation{Kind: OpRemoveFile, Item: item, TargetPath: target}
	}
	return Operation{Kind: OpAdd, Item: item}
}

// parentDir returns path's parent directory with a trailing slash, or ""
// for a top-level path.
func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return ""
	}
	return path[:i+1]
}
