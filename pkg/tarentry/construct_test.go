package tarentry

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTar writes hdr/body pairs into an in-memory tar stream, mirroring the
// layout a decompressed OCI layer presents to Scanner.
func buildTar(t *testing.T, entries []struct {
	hdr  *tar.Header
	body string
}) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		e.hdr.Size = int64(len(e.body))
		require.NoError(t, tw.WriteHeader(e.hdr))
		if e.body != "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func scanAll(t *testing.T, layer SourceLayerId, data []byte) []TarItem {
	t.Helper()
	s := NewScanner(layer, bytes.NewReader(data))
	var items []TarItem
	for {
		item, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		items = append(items, *item)
	}
	return items
}

// A directory, a regular file, a symlink, a whiteout marker (an ordinary
// zero-size regular file by tar's own typing — tarentry has no opinion on
// ".wh." names, that's pkg/merge's job) and a hardlink all round-trip with
// the fields the rest of the pipeline depends on.
func TestScannerMixedEntries(t *testing.T) {
	data := buildTar(t, []struct {
		hdr  *tar.Header
		body string
	}{
		{hdr: &tar.Header{Name: "./etc/", Typeflag: tar.TypeDir, Mode: 0755}},
		{hdr: &tar.Header{Name: "etc/motd", Typeflag: tar.TypeReg, Mode: 0644, Uid: 1, Gid: 2}, body: "hello"},
		{hdr: &tar.Header{Name: "etc/current", Typeflag: tar.TypeSymlink, Linkname: "motd"}},
		{hdr: &tar.Header{Name: "etc/.wh.removed", Typeflag: tar.TypeReg, Mode: 0644}},
		{hdr: &tar.Header{Name: "./etc/motd-ln", Typeflag: tar.TypeLink, Linkname: "./etc/motd"}},
	})

	items := scanAll(t, 3, data)
	require.Len(t, items, 5)

	dir := items[0]
	assert.Equal(t, KindDirectory, dir.Kind)
	assert.Equal(t, "etc", dir.Path)
	assert.Equal(t, SourceLayerId(3), dir.LayerID)

	file := items[1]
	assert.Equal(t, KindFileNonEmpty, file.Kind)
	assert.Equal(t, "etc/motd", file.Path)
	assert.EqualValues(t, 5, file.Size)
	assert.Equal(t, ContentHash(sha256.Sum256([]byte("hello"))), file.Hash)
	assert.Equal(t, 1, file.UID)
	assert.Equal(t, 2, file.GID)
	assert.Greater(t, file.DataOffset, file.HeaderOffset)

	symlink := items[2]
	assert.Equal(t, KindSymlink, symlink.Kind)
	assert.Equal(t, "etc/current", symlink.Path)
	assert.Equal(t, "motd", symlink.Target)

	whiteout := items[3]
	assert.Equal(t, KindFileEmpty, whiteout.Kind)
	assert.Equal(t, ".wh.removed", whiteout.Basename())

	link := items[4]
	assert.Equal(t, KindHardLink, link.Kind)
	assert.Equal(t, "etc/motd-ln", link.Path)
	assert.Equal(t, "etc/motd", link.Target)
}

// Header and data offsets track cumulative bytes read from the stream, not
// just within one entry, since the executor later seeks the layer store by
// these absolute offsets.
func TestScannerOffsetsAreCumulative(t *testing.T) {
	data := buildTar(t, []struct {
		hdr  *tar.Header
		body string
	}{
		{hdr: &tar.Header{Name: "a", Typeflag: tar.TypeReg, Mode: 0644}, body: "aaa"},
		{hdr: &tar.Header{Name: "b", Typeflag: tar.TypeReg, Mode: 0644}, body: "bbb"},
	})

	items := scanAll(t, 0, data)
	require.Len(t, items, 2)
	assert.Zero(t, items[0].HeaderOffset)
	assert.Greater(t, items[1].HeaderOffset, items[0].DataOffset)
}

// A zero-size regular file is KindFileEmpty with a zero Hash, never hashed.
func TestScannerEmptyFile(t *testing.T) {
	data := buildTar(t, []struct {
		hdr  *tar.Header
		body string
	}{
		{hdr: &tar.Header{Name: "empty", Typeflag: tar.TypeReg, Mode: 0644}},
	})

	items := scanAll(t, 0, data)
	require.Len(t, items, 1)
	assert.Equal(t, KindFileEmpty, items[0].Kind)
	assert.Equal(t, ContentHash{}, items[0].Hash)
}

// An unsupported entry type (a FIFO, say) is reported as a scan error rather
// than silently skipped or misclassified.
func TestScannerRejectsUnsupportedTypeflag(t *testing.T) {
	data := buildTar(t, []struct {
		hdr  *tar.Header
		body string
	}{
		{hdr: &tar.Header{Name: "fifo", Typeflag: tar.TypeFifo, Mode: 0644}},
	})

	s := NewScanner(0, bytes.NewReader(data))
	_, err := s.Next()
	require.Error(t, err)
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"./etc/motd": "etc/motd",
		"/etc/motd":  "etc/motd",
		"etc//motd":  "etc/motd",
		"./":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), "normalizePath(%q)", in)
	}
}
