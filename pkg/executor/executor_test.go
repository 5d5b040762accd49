package executor

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// fakeSourceLayer holds one in-memory tar stream and hands back a fresh
// tar.Reader positioned at a given byte offset, mirroring
// layerstore.Layer.OpenArchiveAt.
type fakeSourceLayer struct {
	buf []byte
}

func (f *fakeSourceLayer) OpenArchiveAt(offset int64) *tar.Reader {
	return tar.NewReader(bytes.NewReader(f.buf[offset:]))
}

// buildTar writes entries sequentially and returns the archive bytes plus
// the header offset of each entry. tar.Writer pads the previous entry to a
// 512-byte block only when the next header is written, so the offset is the
// buffer length rounded up to a block boundary.
func buildTar(t *testing.T, entries map[string]string) ([]byte, map[string]int64) {
	t.Helper()
	var buf bytes.Buffer
	offsets := make(map[string]int64)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tar.NewWriter(&buf)
	for _, name := range names {
		body := entries[name]
		offsets[name] = int64((buf.Len() + 511) &^ 511)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Size: int64(len(body)),
			Mode: 0o644,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes(), offsets
}

// fakeWriter records every call made to it, preserving call order so tests
// can assert on write sequencing.
type fakeWriter struct {
	mu    sync.Mutex
	whole []string
	part  []string
}

func (f *fakeWriter) CopyItem(header *tar.Header, body io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := io.Copy(io.Discard, body)
	f.whole = append(f.whole, header.Name)
	return err
}

func (f *fakeWriter) CopyPartialItem(header *tar.Header, newPath string, size int64, body io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		f.part = append(f.part, newPath+":short")
		return nil
	}
	f.part = append(f.part, newPath)
	return nil
}

func TestSortOperationsOrdersByDestThenRankThenSource(t *testing.T) {
	ops := []Operation{
		{Source: 2, Dest: 0, SortKey: tarentry.KindFileNonEmpty},
		{Source: 0, Dest: 0, SortKey: tarentry.KindDirectory},
		{Source: 1, Dest: 0, SortKey: tarentry.KindFileNonEmpty},
		{Source: 0, Dest: 1, SortKey: tarentry.KindDirectory},
	}
	sortOperations(ops)

	require.Len(t, ops, 4)
	assert.Equal(t, tarentry.NewLayerId(0), ops[0].Dest)
	assert.Equal(t, tarentry.KindDirectory, ops[0].SortKey)
	assert.Equal(t, tarentry.SourceLayerId(1), ops[1].Source)
	assert.Equal(t, tarentry.SourceLayerId(2), ops[2].Source)
	assert.Equal(t, tarentry.NewLayerId(1), ops[3].Dest)
}

func TestExecuteWritesWholeEntry(t *testing.T) {
	buf, offsets := buildTar(t, map[string]string{"a.txt": "hello"})
	layer := &fakeSourceLayer{buf: buf}
	w := &fakeWriter{}

	ops := []Operation{
		{Source: 0, Dest: 0, HeaderOffset: uint64(offsets["a.txt"]), SortKey: tarentry.KindFileNonEmpty, Type: OpWriteWhole},
	}

	err := Execute(context.Background(), ops,
		func(tarentry.SourceLayerId) (SourceLayer, error) { return layer, nil },
		func(tarentry.NewLayerId) (LayerWriter, error) { return w, nil },
		2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, w.whole)
}

func TestExecuteWritesPartialEntry(t *testing.T) {
	buf, offsets := buildTar(t, map[string]string{"huge": "0123456789"})
	layer := &fakeSourceLayer{buf: buf}
	w := &fakeWriter{}

	ops := []Operation{
		{
			Source: 0, Dest: 0, HeaderOffset: uint64(offsets["huge"]),
			SortKey: tarentry.KindFileNonEmpty, Type: OpWritePartial,
			Range:   planner.ByteRange{Start: 2, End: 5},
			NewPath: ".repack._split-huge-2-5",
		},
	}

	err := Execute(context.Background(), ops,
		func(tarentry.SourceLayerId) (SourceLayer, error) { return layer, nil },
		func(tarentry.NewLayerId) (LayerWriter, error) { return w, nil },
		1)
	require.NoError(t, err)
	assert.Equal(t, []string{".repack._split-huge-2-5"}, w.part)
}

func TestExecuteGroupsBySourceAndPreservesPerSourceOrder(t *testing.T) {
	buf, offsets := buildTar(t, map[string]string{"big": "XXXX", "big-ln": ""})
	layer := &fakeSourceLayer{buf: buf}
	w := &fakeWriter{}

	ops := []Operation{
		{Source: 0, Dest: 0, HeaderOffset: uint64(offsets["big-ln"]), SortKey: tarentry.KindHardLink, Type: OpWriteWhole},
		{Source: 0, Dest: 0, HeaderOffset: uint64(offsets["big"]), SortKey: tarentry.KindFileNonEmpty, Type: OpWriteWhole},
	}
	sortOperations(ops)

	err := Execute(context.Background(), ops,
		func(tarentry.SourceLayerId) (SourceLayer, error) { return layer, nil },
		func(tarentry.NewLayerId) (LayerWriter, error) { return w, nil },
		4)
	require.NoError(t, err)
	require.Len(t, w.whole, 2)
	assert.Equal(t, "big", w.whole[0])
	assert.Equal(t, "big-ln", w.whole[1])
}
