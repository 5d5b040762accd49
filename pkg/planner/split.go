package planner

import "fmt"

// byteRangeChunks splits a size-byte payload into consecutive half-open
// ranges of at most chunkSize bytes each (original spec §4.4, "Oversized
// handling").
func byteRangeChunks(size, chunkSize uint64) []ByteRange {
	if chunkSize == 0 {
		return []ByteRange{{0, size}}
	}
	var ranges []ByteRange
	for start := uint64(0); start < size; start += chunkSize {
		end := start + chunkSize
		if end > size {
			end = size
		}
		ranges = append(ranges, ByteRange{start, end})
	}
	return ranges
}

// syntheticChunkPath builds the synthetic destination path a split chunk is
// written under, per original spec §4.4:
// ".repack._split-<basename>-<start>-<end>".
func syntheticChunkPath(path string, r ByteRange) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	return fmt.Sprintf(".repack._split-%s-%d-%d", base, r.Start, r.End)
}
