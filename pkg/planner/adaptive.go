package planner

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// PayloadSource supplies the raw bytes of an item's byte range so the
// adaptive packer can feed them through a probe zstd stream. The executor's
// decompressed-layer store satisfies this directly.
type PayloadSource interface {
	ReadPayload(item tarentry.TarItem, r ByteRange) ([]byte, error)
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// adaptiveBinState pairs a LayerBin with the persistent zstd stream used to
// estimate its running compressed size. Feeding a rejected candidate's
// bytes through the stream before deciding is, strictly, irreversible: the
// stream's LZ window now reflects bytes that didn't end up in the bin. That
// only ever makes the estimate more conservative (it never under-counts),
// which is an acceptable tradeoff for a size *estimator*.
type adaptiveBinState struct {
	bin     *LayerBin
	enc     *zstd.Encoder
	counter *countingWriter
}

func newAdaptiveBinState(id tarentry.NewLayerId, level int) (*adaptiveBinState, error) {
	cw := &countingWriter{}
	enc, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening probe zstd stream: %v", repackerr.ErrInputMalformed, err)
	}
	return &adaptiveBinState{bin: newBin(id), enc: enc, counter: cw}, nil
}

// probe feeds payload through the bin's stream and returns the running
// compressed byte count.
func (s *adaptiveBinState) probe(payload []byte) (int64, error) {
	if len(payload) > 0 {
		if _, err := s.enc.Write(payload); err != nil {
			return 0, err
		}
	}
	if err := s.enc.Flush(); err != nil {
		return 0, err
	}
	return s.counter.n, nil
}

func (s *adaptiveBinState) close() { _ = s.enc.Close() }

// AdaptivePacker implements the alternative planner variant from original
// spec §4.4: per-bin compressed-size estimation instead of a raw byte-size
// budget.
type AdaptivePacker struct {
	Source PayloadSource
}

func (p *AdaptivePacker) packNormal(items []PlannedItem, opts Options, nextID *int, smallBin *LayerBin) ([]*LayerBin, error) {
	var states []*adaptiveBinState

	for _, pi := range items {
		if pi.Item.Kind == tarentry.KindHardLink {
			if smallBin != nil && smallBin.hasHardlinkTarget(pi.Item.LayerID, pi.Item.Target) {
				smallBin.add(pi, false)
				continue
			}
			if idx := findHardlinkBinState(states, pi); idx >= 0 {
				states[idx].bin.add(pi, false)
				continue
			}
		}
		if pi.Item.Kind == tarentry.KindFileNonEmpty {
			if idx := findDedupBinState(states, pi); idx >= 0 {
				states[idx].bin.add(pi, false)
				continue
			}
		}

		payload, err := p.Source.ReadPayload(pi.Item, pi.Range)
		if err != nil {
			return nil, fmt.Errorf("reading payload for estimator probe: %w", err)
		}

		placed := false
		for _, st := range states {
			size, err := st.probe(payload)
			if err != nil {
				return nil, fmt.Errorf("probing estimator stream: %w", err)
			}
			if uint64(size) <= opts.TargetSize {
				st.bin.add(pi, true)
				placed = true
				break
			}
		}

		if !placed {
			st, err := newAdaptiveBinState(tarentry.NewLayerId(*nextID), opts.CompressionLevel)
			*nextID++
			if err != nil {
				return nil, err
			}
			if _, err := st.probe(payload); err != nil {
				return nil, fmt.Errorf("seeding new estimator stream: %w", err)
			}
			st.bin.add(pi, true)
			states = append(states, st)
		}
	}

	bins := make([]*LayerBin, len(states))
	for i, st := range states {
		st.close()
		bins[i] = st.bin
	}
	return bins, nil
}

func findHardlinkBinState(states []*adaptiveBinState, pi PlannedItem) int {
	for i, st := range states {
		if st.bin.hasHardlinkTarget(pi.Item.LayerID, pi.Item.Target) {
			return i
		}
	}
	return -1
}

func findDedupBinState(states []*adaptiveBinState, pi PlannedItem) int {
	for i, st := range states {
		if st.bin.hasHash(pi.Item.Hash) {
			return i
		}
	}
	return -1
}

var _ io.Writer = (*countingWriter)(nil)
