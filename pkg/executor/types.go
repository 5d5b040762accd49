// Package executor deterministically streams planned items from source
// layers into output tar streams (original spec §4.5, component E).
package executor

import (
	"archive/tar"
	"io"

	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// OperationType discriminates the two ways an executor operation writes an
// entry to its destination.
type OperationType int

const (
	OpWriteWhole OperationType = iota
	OpWritePartial
)

// Operation is one planned copy (original spec §3, "RepackOperation").
type Operation struct {
	Source       tarentry.SourceLayerId
	HeaderOffset uint64
	Dest         tarentry.NewLayerId
	SortKey      tarentry.Kind

	Type OperationType

	// Range and NewPath are only meaningful for OpWritePartial.
	Range   planner.ByteRange
	NewPath string
}

// LayerWriter is the subset of the output writer's contract (original spec
// §4.6) the executor drives directly; pkg/imagewriter.LayerWriter
// implements it.
type LayerWriter interface {
	CopyItem(header *tar.Header, body io.Reader) error
	CopyPartialItem(header *tar.Header, newPath string, size int64, body io.Reader) error
}

// SourceLayer is the subset of layerstore.Layer the executor needs; it's an
// interface (rather than the concrete type) so tests can substitute an
// in-memory fake.
type SourceLayer interface {
	OpenArchiveAt(offset int64) *tar.Reader
}

// WriterProvider resolves a destination layer id to its LayerWriter,
// opening it on first use.
type WriterProvider func(dest tarentry.NewLayerId) (LayerWriter, error)

// SourceProvider resolves a source layer id to the decompressed layer it
// should be read from.
type SourceProvider func(src tarentry.SourceLayerId) (SourceLayer, error)
