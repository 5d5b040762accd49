// Package repack wires together every pipeline component (A-K) into a
// single Repack call: it reads a source image, decompresses and enumerates
// its layers, folds them into merged content, plans output layers, executes
// the plan against an output writer, and assembles the result into a new
// OCI-layout directory (original spec §1, reference `packing::repack`).
package repack

import (
	"runtime"

	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/registryauth"
)

// Input selects where the source image comes from. Exactly one of LocalDir
// or Remote should be set; LocalDir takes precedence if both are.
type Input struct {
	// LocalDir is a path to an OCI-layout directory.
	LocalDir string
	// Remote is a "host/repo[:tag|@digest]" registry reference.
	Remote string
	// Tag narrows a local manifest-list entry by its
	// "org.opencontainers.image.ref.name" annotation; unused for Remote,
	// whose tag/digest is already embedded in the reference string.
	Tag string
}

// Options configures one repack run.
type Options struct {
	// TargetSize is the compressed-size budget for Normal output layers.
	// Required; Repack returns repackerr.ErrUnreachableTarget if zero.
	TargetSize uint64

	// SplitFiles enables oversized-file splitting. SplitThreshold, the
	// chunk size, defaults to TargetSize when SplitFiles is set and
	// SplitThreshold is left zero.
	SplitFiles     bool
	SplitThreshold uint64

	// CompressionLevel is the zstd level used for output layer blobs and,
	// when PlannerKind is KindAdaptive, the planner's probe stream.
	// Defaults to 7.
	CompressionLevel int
	// SkipCompression stores output layers uncompressed.
	SkipCompression bool

	// Exclude is a list of .dockerignore-style glob patterns; matching
	// paths (and the targets of matching sym/hardlinks) are dropped from
	// the merged content before planning.
	Exclude []string

	// PlannerKind selects the bin-packing strategy for Normal items.
	PlannerKind planner.Kind

	// Platform narrows a remote or local manifest-list reference; the
	// zero value defaults to linux/amd64.
	Platform ispec.Platform

	// Workers bounds per-layer decompression/enumeration concurrency and
	// executor per-source-group concurrency. Defaults to
	// runtime.GOMAXPROCS(0).
	Workers int

	// KeepTempFiles preserves <outDir>/temp after the run, success or
	// failure, instead of deleting decompressed layer staging files.
	KeepTempFiles bool

	// Auth resolves registry credentials for a Remote input; defaults to
	// registryauth.DefaultChain().
	Auth registryauth.Provider

	// CreatedBy annotates each synthesized history entry in the output
	// image config.
	CreatedBy string
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) splitThreshold() uint64 {
	if !o.SplitFiles {
		return 0
	}
	if o.SplitThreshold > 0 {
		return o.SplitThreshold
	}
	return o.TargetSize
}

func (o Options) compressionLevel() int {
	if o.CompressionLevel > 0 {
		return o.CompressionLevel
	}
	return 7
}

func (o Options) createdBy() string {
	if o.CreatedBy != "" {
		return o.CreatedBy
	}
	return "docker-repack"
}
