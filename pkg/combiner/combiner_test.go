package combiner

import (
	"crypto/sha256"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/tarentry"
)

type fakeWriter struct {
	dirs  map[string]int64
	files map[string][]byte
	modes map[string]int64
	order []string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{dirs: map[string]int64{}, files: map[string][]byte{}, modes: map[string]int64{}}
}

func (f *fakeWriter) NewDirectory(path string, mode int64) error {
	f.dirs[path] = mode
	f.order = append(f.order, path)
	return nil
}

func (f *fakeWriter) NewFile(path string, mode int64, content []byte) error {
	f.files[path] = content
	f.modes[path] = mode
	f.order = append(f.order, path)
	return nil
}

func hashOf(s string) tarentry.ContentHash { return sha256.Sum256([]byte(s)) }

func TestFromChunkRecordsGroupsByOriginalPath(t *testing.T) {
	hash := hashOf("x")
	records := []planner.ChunkRecord{
		{ContentHash: hash, OriginalPath: "huge", SyntheticPath: ".repack._split-huge-0-40", Range: planner.ByteRange{Start: 0, End: 40}},
		{ContentHash: hash, OriginalPath: "huge", SyntheticPath: ".repack._split-huge-40-80", Range: planner.ByteRange{Start: 40, End: 80}},
		{ContentHash: hash, OriginalPath: "huge", SyntheticPath: ".repack._split-huge-80-100", Range: planner.ByteRange{Start: 80, End: 100}},
	}

	c := FromChunkRecords(records)
	require.Equal(t, 1, c.Len())
	assert.False(t, c.IsEmpty())
	assert.Len(t, c.files[0].Chunks, 3)
	assert.EqualValues(t, 100, c.files[0].size())
}

func TestWriteToImageProducesScriptAndIndexes(t *testing.T) {
	hash := hashOf("x")
	c := New()
	c.files = append(c.files, ChunkedFile{
		Path: "huge",
		Hash: hash,
		Chunks: []ChunkRef{
			{Path: ".repack._split-huge-0-40", Range: planner.ByteRange{Start: 0, End: 40}},
			{Path: ".repack._split-huge-40-100", Range: planner.ByteRange{Start: 40, End: 100}},
		},
	})

	w := newFakeWriter()
	paths, err := c.WriteToImage(w)
	require.NoError(t, err)
	require.Equal(t, []string{"/.docker-repack/combine.sh"}, paths)

	script := string(w.files[".docker-repack/combine.sh"])
	assert.Contains(t, script, "combine \"huge\" \".repack._split-huge-0-40\" \".repack._split-huge-40-100\"")
	assert.Contains(t, script, `if [ -f "$marker" ]; then`)
	assert.Contains(t, script, `touch "$marker"`)
	assert.EqualValues(t, 0o755, w.modes[".docker-repack/combine.sh"])

	text := string(w.files[".docker-repack/index.txt"])
	assert.True(t, strings.Contains(text, hash.String()))
	assert.True(t, strings.Contains(text, "huge"))

	var doc jsonIndexDoc
	require.NoError(t, json.Unmarshal(w.files[".docker-repack/index.json"], &doc))
	require.Len(t, doc.Files, 1)
	assert.Equal(t, "huge", doc.Files[0].Path)
	assert.EqualValues(t, 100, doc.Files[0].Size)
	require.Len(t, doc.Files[0].Chunks, 2)
	assert.EqualValues(t, 40, doc.Files[0].Chunks[0].End)
}

func TestWriteToImageEmptyCombinerStillWritesEmptyArtifacts(t *testing.T) {
	c := New()
	w := newFakeWriter()
	paths, err := c.WriteToImage(w)
	require.NoError(t, err)
	assert.Equal(t, []string{"/.docker-repack/combine.sh"}, paths)
	assert.Contains(t, string(w.files[".docker-repack/combine.sh"]), "touch \"$marker\"")
}
