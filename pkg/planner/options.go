package planner

// SmallThreshold is the maximum size (inclusive) for a regular file to be
// classified Small, per original spec §4.4.
const SmallThreshold = 1024

// Kind selects which Packer implementation Plan uses.
type Kind int

const (
	// KindFirstFit is the online first-fit bin packer with the three
	// admission rules from original spec §4.4.
	KindFirstFit Kind = iota

	// KindAdaptive is the compressed-size-estimator variant: one zstd
	// stream per open bin, sealed when its running compressed byte count
	// crosses the target.
	KindAdaptive
)

// Options configures a planner run.
type Options struct {
	// TargetSize is the compressed-size budget T for Normal bins.
	TargetSize uint64

	// SplitThreshold is S, the oversized-file chunk size. Zero disables
	// splitting.
	SplitThreshold uint64

	// Kind selects the packer implementation for Normal items.
	Kind Kind

	// CompressionLevel is only consulted by KindAdaptive, whose zstd probe
	// stream uses the same level the output writer will ultimately use so
	// its estimate matches reality.
	CompressionLevel int
}
