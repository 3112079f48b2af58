package parser

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkContentShortInput(t *testing.T) {
	assert.Nil(t, chunkContent("   ", 100, 10))
	assert.Equal(t, []string{"hello world"}, chunkContent("  hello world \n", 100, 10))
	assert.Nil(t, chunkContent("abc", 0, 0))
}

func TestChunkContentSizeAndOverlap(t *testing.T) {
	words := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		words = append(words, "word")
	}
	content := strings.Join(words, " ")

	chunks := chunkContent(content, 100, 20)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
		assert.NotEmpty(t, c)
	}
	// consecutive chunks overlap
	assert.True(t, strings.HasSuffix(chunks[0], "word"))
	assert.True(t, strings.HasPrefix(chunks[1], "word") || strings.HasPrefix(chunks[1], "ord"))
	// the tail of the document is kept
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "word"))
}

func TestChunkContentKeepsEveryWord(t *testing.T) {
	// every word fits the break search window, so no word is ever split
	words := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		if i%2 == 0 {
			words = append(words, fmt.Sprintf("w%03d", i))
		} else {
			words = append(words, fmt.Sprintf("long%04d", i))
		}
	}
	content := strings.Join(words, " ")

	for _, overlap := range []int{0, 5, 20} {
		seen := make(map[string]bool, len(words))
		for _, c := range chunkContent(content, 100, overlap) {
			assert.LessOrEqual(t, len(c), 100)
			for _, w := range strings.Fields(c) {
				seen[w] = true
			}
		}
		for _, w := range words {
			assert.True(t, seen[w], "overlap %d: word %s missing from every chunk", overlap, w)
		}
	}
}

func TestChunkContentLeavesNoGaps(t *testing.T) {
	words := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		if i%2 == 0 {
			words = append(words, fmt.Sprintf("w%06d", i))
		} else {
			words = append(words, fmt.Sprintf("longword%04d", i))
		}
	}
	content := strings.Join(words, " ")

	for _, overlap := range []int{0, 5, 20} {
		chunks := chunkContent(content, 100, overlap)
		require.Greater(t, len(chunks), 1)

		// each chunk must begin at or before the end of the text covered so far
		covered := 0
		for _, c := range chunks {
			at := strings.Index(content, c)
			require.GreaterOrEqual(t, at, 0, "overlap %d: chunk %q not found", overlap, c)
			require.Empty(t, strings.TrimSpace(content[min(covered, at):at]), "overlap %d: bytes skipped before %q", overlap, c)
			covered = max(covered, at+len(c))
		}
		assert.Equal(t, len(content), covered, "overlap %d", overlap)
	}
}

func TestChunkContentKeepsRunesWhole(t *testing.T) {
	content := strings.Repeat("日本語のテキスト", 50)
	for _, c := range chunkContent(content, 37, 5) {
		assert.True(t, utf8.ValidString(c), c)
	}
}

func TestChunkContentTerminatesOnTinySizes(t *testing.T) {
	chunks := chunkContent(strings.Repeat("é", 20), 1, 0)
	assert.NotEmpty(t, chunks)
}

func TestLoadAndChunkText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("The quick brown fox. ", 30)), 0o644))

	chunks, err := LoadAndChunk(path, Options{ChunkSize: 120, ChunkOverlap: 20})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 120)
	}
}

func TestLoadAndChunkEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	chunks, err := LoadAndChunk(path, Options{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestLoadAndChunkMarkdown(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and `code`.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n```\nfenced\n```\n"
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	chunks, err := LoadAndChunk(path, Options{ChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "Title")
	assert.Contains(t, chunks[0], "Some emphasis and code.")
	assert.Contains(t, chunks[0], "fenced")
	assert.NotContains(t, chunks[0], "#")
	assert.NotContains(t, chunks[0], "*")
}

func TestLoadAndChunkPPTXSlidesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	slides := map[string]string{
		"ppt/slides/slide10.xml": `<p:sld><a:t>tenth</a:t></p:sld>`,
		"ppt/slides/slide2.xml":  `<p:sld><a:t>second</a:t><a:tab/><a:t>slide</a:t></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld><a:t>first &amp; best</a:t></p:sld>`,
		"ppt/slides/_rels/x.xml": `<a:t>ignored</a:t>`,
	}
	for _, name := range []string{"ppt/slides/slide10.xml", "ppt/slides/slide2.xml", "ppt/slides/slide1.xml", "ppt/slides/_rels/x.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(slides[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	chunks, err := LoadAndChunk(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first & best", "second slide", "tenth"}, chunks)
}

func TestLoadAndChunkUnsupported(t *testing.T) {
	_, err := LoadAndChunk("archive.tar", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, Supported("x.tar"))
	assert.True(t, Supported("X.PDF"))
}

func TestLoadAndChunkMissingFile(t *testing.T) {
	_, err := LoadAndChunk(filepath.Join(t.TempDir(), "missing.pdf"), Options{})
	assert.Error(t, err)
}

func TestXMLText(t *testing.T) {
	xml := `<w:p><w:r><w:t>Hello</w:t></w:r><w:tab/><w:r><w:t xml:space="preserve">world &lt;3</w:t></w:r><w:tbl></w:tbl></w:p>`
	assert.Equal(t, "Hello world <3", xmlText(xml, "w:t"))
	assert.Equal(t, "", xmlText("<w:t/>", "w:t"))
}
