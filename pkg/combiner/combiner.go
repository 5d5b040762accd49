// Package combiner generates the script and indexes that reassemble
// oversized files split by the planner (original spec §4.7, component G).
// The artifacts land in the Small output layer under /.docker-repack/; the
// generated script's path is returned so the image's entrypoint can be
// patched to run it before the original entrypoint.
package combiner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/tarentry"
)

const artifactDir = "/.docker-repack"

// ChunkedFile is one oversized file and the ordered list of synthetic chunk
// paths it was split into.
type ChunkedFile struct {
	Path   string
	Hash   tarentry.ContentHash
	Chunks []ChunkRef
}

// ChunkRef is one chunk's destination path and the byte range it covers in
// the original file.
type ChunkRef struct {
	Path  string
	Range planner.ByteRange
}

func (f ChunkedFile) size() uint64 {
	var total uint64
	for _, c := range f.Chunks {
		total += c.Range.Len()
	}
	return total
}

// Combiner accumulates chunked files in the order the planner registered
// them.
type Combiner struct {
	files []ChunkedFile
}

// New returns an empty Combiner.
func New() *Combiner {
	return &Combiner{}
}

// FromChunkRecords groups the planner's flat chunk list back into one entry
// per original file, preserving each file's first-seen order; chunks of a
// single file stay relatively ordered because the planner sorts Oversized
// items stably by path (original spec §4.4).
func FromChunkRecords(records []planner.ChunkRecord) *Combiner {
	c := New()
	index := make(map[string]int)
	for _, r := range records {
		if i, ok := index[r.OriginalPath]; ok {
			c.files[i].Chunks = append(c.files[i].Chunks, ChunkRef{Path: r.SyntheticPath, Range: r.Range})
			continue
		}
		index[r.OriginalPath] = len(c.files)
		c.files = append(c.files, ChunkedFile{
			Path:   r.OriginalPath,
			Hash:   r.ContentHash,
			Chunks: []ChunkRef{{Path: r.SyntheticPath, Range: r.Range}},
		})
	}
	return c
}

// IsEmpty reports whether any file was split.
func (c *Combiner) IsEmpty() bool { return len(c.files) == 0 }

// Len returns the number of chunked files.
func (c *Combiner) Len() int { return len(c.files) }

// layerWriter is the subset of imagewriter.LayerWriter the combiner needs;
// declared here (rather than importing imagewriter directly) so the
// artifact-writing logic stays independently testable.
type layerWriter interface {
	NewDirectory(path string, mode int64) error
	NewFile(path string, mode int64, content []byte) error
}

// WriteToImage writes the directory, both indexes, and the combining script
// into w, and returns the entrypoint-patch path(s) (a single absolute script
// path) the caller should prepend to the image's entrypoint.
func (c *Combiner) WriteToImage(w layerWriter) ([]string, error) {
	dir := strings.TrimPrefix(artifactDir, "/") + "/"
	if err := w.NewDirectory(dir, 0o755); err != nil {
		return nil, fmt.Errorf("writing combiner directory: %w", err)
	}

	if err := w.NewFile(dir+"index.txt", 0o644, []byte(c.textIndex())); err != nil {
		return nil, fmt.Errorf("writing combiner text index: %w", err)
	}

	jsonIndex, err := c.jsonIndex()
	if err != nil {
		return nil, fmt.Errorf("marshaling combiner json index: %w", err)
	}
	if err := w.NewFile(dir+"index.json", 0o644, jsonIndex); err != nil {
		return nil, fmt.Errorf("writing combiner json index: %w", err)
	}

	scriptPath := dir + "combine.sh"
	if err := w.NewFile(scriptPath, 0o755, []byte(c.script())); err != nil {
		return nil, fmt.Errorf("writing combiner script: %w", err)
	}

	return []string{"/" + scriptPath}, nil
}

func (c *Combiner) script() string {
	var b strings.Builder
	b.WriteString(scriptPreamble)
	for _, f := range c.files {
		fmt.Fprintf(&b, "# %s\n", f.Hash)
		fmt.Fprintf(&b, "combine %q", f.Path)
		for _, chunk := range f.Chunks {
			fmt.Fprintf(&b, " %q", chunk.Path)
		}
		b.WriteString("\n\n")
	}
	b.WriteString(scriptEpilogue)
	return b.String()
}

func (c *Combiner) textIndex() string {
	var b strings.Builder
	for _, f := range c.files {
		fmt.Fprintf(&b, "%s\t%s", f.Hash, f.Path)
		for _, chunk := range f.Chunks {
			fmt.Fprintf(&b, "\t%s", chunk.Path)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type jsonIndexChunk struct {
	Path  string `json:"path"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type jsonIndexFile struct {
	Path   string           `json:"path"`
	Hash   string           `json:"hash"`
	Size   uint64           `json:"size"`
	Chunks []jsonIndexChunk `json:"chunks"`
}

type jsonIndexDoc struct {
	Files []jsonIndexFile `json:"files"`
}

func (c *Combiner) jsonIndex() ([]byte, error) {
	doc := jsonIndexDoc{}
	for _, f := range c.files {
		entry := jsonIndexFile{
			Path: f.Path,
			Hash: f.Hash.String(),
			Size: f.size(),
		}
		for _, chunk := range f.Chunks {
			entry.Chunks = append(entry.Chunks, jsonIndexChunk{
				Path:  chunk.Path,
				Start: chunk.Range.Start,
				End:   chunk.Range.End,
			})
		}
		doc.Files = append(doc.Files, entry)
	}
	return json.MarshalIndent(doc, "", "  ")
}
