package tarentry

import (
	"archive/tar"
	"crypto/sha256"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/orf/docker-repack/pkg/repackerr"
)

// countingReader tracks how many bytes have been pulled through it so a
// Scanner can record absolute header/data offsets without the underlying
// stream supporting Seek. Mirrors the countingReader used while walking OCI
// layers for gzip-checkpoint indexing.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Scanner turns a sequential decompressed-layer stream into a sequence of
// TarItems, per original spec §4.1.
type Scanner struct {
	layerID SourceLayerId
	counter *countingReader
	tr      *tar.Reader
}

// NewScanner wraps r (the decompressed archive body, already positioned at
// its start) with a tar reader that records absolute byte offsets.
func NewScanner(layerID SourceLayerId, r io.Reader) *Scanner {
	cr := &countingReader{r: r}
	return &Scanner{layerID: layerID, counter: cr, tr: tar.NewReader(cr)}
}

// Next returns the next TarItem, or io.EOF once the archive is exhausted.
func (s *Scanner) Next() (*TarItem, error) {
	// tar.Reader skips the previous entry's block padding inside Next, so
	// the header starts at the next 512-byte boundary after the payload
	// consumed so far.
	headerOffset := (s.counter.n + 511) &^ 511
	hdr, err := s.tr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading tar header: %v", repackerr.ErrInputMalformed, err)
	}
	dataOffset := s.counter.n

	item := &TarItem{
		LayerID:      s.layerID,
		Path:         normalizePath(hdr.Name),
		Size:         uint64(hdr.Size),
		HeaderOffset: uint64(headerOffset),
		DataOffset:   uint64(dataOffset),
		Mode:         hdr.Mode,
		UID:          hdr.Uid,
		GID:          hdr.Gid,
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		item.Kind = KindDirectory

	case tar.TypeSymlink:
		item.Kind = KindSymlink
		item.Target = hdr.Linkname

	case tar.TypeLink:
		item.Kind = KindHardLink
		item.Target = normalizePath(hdr.Linkname)

	case tar.TypeReg, tar.TypeRegA:
		if hdr.Size == 0 {
			item.Kind = KindFileEmpty
			break
		}
		item.Kind = KindFileNonEmpty
		h := sha256.New()
		n, err := io.CopyN(h, s.tr, hdr.Size)
		if err != nil {
			return nil, fmt.Errorf("%w: hashing %s: %v", repackerr.ErrInputMalformed, item.Path, err)
		}
		if n != hdr.Size {
			return nil, fmt.Errorf("%w: short read hashing %s (want %d got %d)", repackerr.ErrInputMalformed, item.Path, hdr.Size, n)
		}
		copy(item.Hash[:], h.Sum(nil))

	default:
		return nil, fmt.Errorf("%w: typeflag %q at %s", repackerr.ErrUnsupportedEntry, string(hdr.Typeflag), hdr.Name)
	}

	return item, nil
}

// normalizePath strips a leading "./" and any doubled separators, matching
// the way OCI layer tars commonly encode entries, and removes the leading
// slash so archive paths never begin with "/".
func normalizePath(name string) string {
	cleaned := path.Clean("/" + strings.TrimPrefix(name, "./"))
	return strings.TrimPrefix(cleaned, "/")
}
