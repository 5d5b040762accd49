// Package repackerr defines the sentinel error kinds shared across the
// repack pipeline. Every package wraps these with fmt.Errorf("...: %w", err)
// rather than inventing ad-hoc error strings, so callers can classify
// failures with errors.Is regardless of which stage produced them.
package repackerr

import "errors"

var (
	// ErrInputMalformed covers a missing manifest, an unresolvable manifest
	// list, a missing blob, or a corrupt tar header. Unsupported entry kinds
	// are reported with ErrUnsupportedEntry.
	ErrInputMalformed = errors.New("malformed input image")

	// ErrUnsupportedEntry is returned when a tar header names a kind the
	// tar-item model does not represent (char/block device, FIFO, unknown
	// GNU typeflag).
	ErrUnsupportedEntry = errors.New("unsupported tar entry kind")

	// ErrWhiteoutMissingTarget is returned when a whiteout entry names a
	// path absent from the merged snapshot it applies against.
	ErrWhiteoutMissingTarget = errors.New("whiteout target not present in merged content")

	// ErrDuplicateAssignment indicates a planner or executor programming
	// error: the same (source layer, path, byte range) was mapped to two
	// output layers.
	ErrDuplicateAssignment = errors.New("item assigned to more than one output layer")

	// ErrMissingOverride indicates a split-file chunk operation was planned
	// without a destination rename path.
	ErrMissingOverride = errors.New("split chunk operation missing destination path")

	// ErrNoCredentials is returned by a registryauth.Provider that has no
	// applicable credentials for the requested registry; callers should
	// fall back to anonymous access rather than treat it as fatal.
	ErrNoCredentials = errors.New("no registry credentials available")

	// ErrUnreachableTarget flags a configured target size of zero. A
	// non-zero target smaller than the largest single item is reported as
	// a warning, not with this error.
	ErrUnreachableTarget = errors.New("target size unreachable for largest item")
)
