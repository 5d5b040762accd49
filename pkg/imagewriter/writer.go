package imagewriter

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/tarentry"
)

// LayerWriter streams entries for one output layer to a staging tar file
// while hashing the uncompressed stream for diff_id, then on Finish
// optionally zstd-compresses it and renames the result into the output
// directory's blob store. It implements executor.LayerWriter.
type LayerWriter struct {
	id        tarentry.NewLayerId
	stagePath string

	mu       sync.Mutex
	file     *os.File
	hasher   hash.Hash
	tw       *tar.Writer
	finished bool
}

// NewLayerWriter creates the staging tar file for a new output layer under
// stageDir.
func NewLayerWriter(id tarentry.NewLayerId, stageDir string) (*LayerWriter, error) {
	path := filepath.Join(stageDir, fmt.Sprintf("layer-%d.tar", id))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating staging file for layer %d: %w", id, err)
	}

	h := sha256.New()
	return &LayerWriter{
		id:        id,
		stagePath: path,
		file:      f,
		hasher:    h,
		tw:        tar.NewWriter(io.MultiWriter(f, h)),
	}, nil
}

// CopyItem writes header verbatim followed by body, original spec's
// WriteWhole dispatch.
func (w *LayerWriter) CopyItem(header *tar.Header, body io.Reader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeEntry(header, body)
}

// CopyPartialItem writes header (already rewritten by the executor with
// newPath/size) followed by exactly size bytes of body, original spec's
// WritePartial dispatch.
func (w *LayerWriter) CopyPartialItem(header *tar.Header, newPath string, size int64, body io.Reader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeEntry(header, body)
}

func (w *LayerWriter) writeEntry(header *tar.Header, body io.Reader) error {
	if w.finished {
		return fmt.Errorf("layer %d: write after finish", w.id)
	}
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("layer %d: writing header for %q: %w", w.id, header.Name, err)
	}
	if header.Size > 0 {
		if _, err := io.CopyN(w.tw, body, header.Size); err != nil {
			return fmt.Errorf("layer %d: writing body for %q: %w", w.id, header.Name, err)
		}
	}
	return nil
}

// NewDirectory writes a synthetic directory entry, used by the combiner
// (component G) to materialize /.docker-repack/ inside the Small layer.
func (w *LayerWriter) NewDirectory(path string, mode int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeEntry(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     path,
		Mode:     mode,
	}, nil)
}

// NewFile writes a synthetic regular file entry with the given content,
// used by the combiner to write its script and index artifacts.
func (w *LayerWriter) NewFile(path string, mode int64, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeEntry(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path,
		Mode:     mode,
		Size:     int64(len(content)),
	}, bytes.NewReader(content))
}

// Finish closes the tar stream, computes diff_id, optionally compresses the
// result with zstd at level, and renames the blob into
// blobDir/sha256/<hex>. It returns the WrittenLayer descriptor.
func (w *LayerWriter) Finish(blobDir string, compress bool, level int) (*WrittenLayer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.tw.Close(); err != nil {
		return nil, fmt.Errorf("layer %d: closing tar writer: %w", w.id, err)
	}
	w.finished = true

	diffID := digest.NewDigestFromBytes(digest.SHA256, w.hasher.Sum(nil))

	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("layer %d: closing staging file: %w", w.id, err)
	}

	if !compress {
		desc, err := publishBlob(blobDir, w.stagePath, ispec.MediaTypeImageLayer)
		if err != nil {
			return nil, err
		}
		return &WrittenLayer{ID: w.id, DiffID: diffID, Descriptor: desc}, nil
	}

	compressedPath := w.stagePath + ".zst"
	if err := compressFile(w.stagePath, compressedPath, level); err != nil {
		return nil, fmt.Errorf("layer %d: compressing: %w", w.id, err)
	}
	_ = os.Remove(w.stagePath)

	desc, err := publishBlob(blobDir, compressedPath, ispec.MediaTypeImageLayerZstd)
	if err != nil {
		return nil, err
	}
	return &WrittenLayer{ID: w.id, DiffID: diffID, Descriptor: desc}, nil
}

// compressFile streams src through a zstd encoder at level into dst while
// discarding nothing: the resulting file's bytes are exactly what
// publishBlob hashes for the layer descriptor's digest.
func compressFile(src, dst string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// publishBlob hashes the file at path and moves it to
// blobDir/sha256/<hex>, returning its descriptor.
func publishBlob(blobDir, path, mediaType string) (ispec.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return ispec.Descriptor{}, err
	}
	h := sha256.New()
	size, err := io.Copy(h, f)
	_ = f.Close()
	if err != nil {
		return ispec.Descriptor{}, err
	}

	d := digest.NewDigestFromBytes(digest.SHA256, h.Sum(nil))
	destDir := filepath.Join(blobDir, "sha256")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ispec.Descriptor{}, err
	}
	dest := filepath.Join(destDir, d.Encoded())
	if err := os.Rename(path, dest); err != nil {
		return ispec.Descriptor{}, fmt.Errorf("publishing blob %s: %w", d, err)
	}

	return ispec.Descriptor{
		MediaType: mediaType,
		Digest:    d,
		Size:      size,
	}, nil
}
