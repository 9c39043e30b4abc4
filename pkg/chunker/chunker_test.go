package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunker(t *testing.T, chunkSize, chunkOverlap, charsPerToken int) *Chunker {
	t.Helper()
	c, err := New(chunkSize, chunkOverlap, charsPerToken)
	require.NoError(t, err)
	return c
}

func TestNewRejectsOverlapNotSmallerThanSize(t *testing.T) {
	_, err := New(50, 50, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")

	_, err = New(50, 80, 4)
	require.Error(t, err)

	// Defaults are a valid combination.
	_, err = New(0, 0, 0)
	require.NoError(t, err)
}

func TestChunkDocumentSmall(t *testing.T) {
	c := newChunker(t, 0, 0, 0)

	chunks := c.ChunkDocument("น้ำสูญเสียใน DMA หมายถึงปริมาณน้ำที่จ่ายแต่ไม่ก่อรายได้", "km/nrw.md", "", "")
	require.Len(t, chunks, 1)

	assert.Equal(t, "km/nrw.md", chunks[0].Source)
	assert.Equal(t, "nrw", chunks[0].Title)
	assert.Equal(t, "general", chunks[0].Category)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, GenerateID("km/nrw.md", 0), chunks[0].ID)
}

func TestChunkDocumentFrontmatter(t *testing.T) {
	c := newChunker(t, 0, 0, 0)

	content := "---\ntitle: คู่มือ DMA\ncategory: nrw\n---\n\nเนื้อหาเอกสาร"
	chunks := c.ChunkDocument(content, "km/dma.md", "", "")
	require.Len(t, chunks, 1)

	assert.Equal(t, "คู่มือ DMA", chunks[0].Title)
	assert.Equal(t, "nrw", chunks[0].Category)
	assert.Equal(t, "เนื้อหาเอกสาร", chunks[0].Content)
}

func TestChunkDocumentExplicitMetadataWins(t *testing.T) {
	c := newChunker(t, 0, 0, 0)

	content := "---\ntitle: from frontmatter\n---\n\nbody"
	chunks := c.ChunkDocument(content, "doc.md", "reports", "from caller")
	require.Len(t, chunks, 1)

	assert.Equal(t, "from caller", chunks[0].Title)
	assert.Equal(t, "reports", chunks[0].Category)
}

func TestChunkDocumentSections(t *testing.T) {
	c := newChunker(t, 0, 0, 0)

	content := "บทนำ\n\n## การวัดแรงดัน\n\nรายละเอียดแรงดัน\n\n## มิเตอร์\n\nรายละเอียดมิเตอร์"
	chunks := c.ChunkDocument(content, "doc.md", "", "")
	require.Len(t, chunks, 3)

	assert.Equal(t, "บทนำ", chunks[0].Content)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "## การวัดแรงดัน\n\n"))
	assert.True(t, strings.HasPrefix(chunks[2].Content, "## มิเตอร์\n\n"))

	// Indexes are sequential across sections.
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
	}
}

func TestChunkTextOverlap(t *testing.T) {
	// Tiny limits force multiple chunks from a handful of paragraphs.
	c := newChunker(t, 10, 2, 4)

	var paras []string
	for i := 0; i < 6; i++ {
		paras = append(paras, fmt.Sprintf("paragraph number %d with some filler", i))
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.chunkText(text)
	require.Greater(t, len(chunks), 1)

	// Every chunk after the first carries a trailing piece of its
	// predecessor, marked with the ellipsis prefix.
	for _, ch := range chunks[1:] {
		assert.True(t, strings.HasPrefix(ch, "..."))
		assert.Contains(t, ch, "\n\n")
	}
}

func TestChunkTextOverlapThaiStaysValidUTF8(t *testing.T) {
	c := newChunker(t, 10, 2, 4)

	// Unbroken Thai paragraphs give the overlap no space to cut on, so
	// the boundary must land between runes.
	var paras []string
	for i := 0; i < 4; i++ {
		paras = append(paras, strings.Repeat("น้ำสูญเสียในระบบจ่ายน้ำ", 3))
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.chunkText(text)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch), "chunk %d is not valid UTF-8: %q", i, ch)
	}
}

func TestChunkTextLongParagraphSplitsOnSentences(t *testing.T) {
	c := newChunker(t, 10, 0, 4)

	// One paragraph well over the limit, made of short sentences.
	var sents []string
	for i := 0; i < 10; i++ {
		sents = append(sents, fmt.Sprintf("Sentence number %d ends here.", i))
	}
	text := strings.Join(sents, " ")

	chunks := c.chunkText(text)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 40)
	}
}

func TestChunkTextWithoutOverlapPreservesContent(t *testing.T) {
	c := newChunker(t, 10, 0, 4)

	var paras []string
	for i := 0; i < 8; i++ {
		paras = append(paras, fmt.Sprintf("ย่อหน้า %d ของเอกสารทดสอบ", i))
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.chunkText(text)
	require.Greater(t, len(chunks), 1)

	// With no overlap, the chunks concatenate back to the original text
	// modulo whitespace.
	joined := strings.Join(strings.Fields(strings.Join(chunks, " ")), " ")
	original := strings.Join(strings.Fields(text), " ")
	assert.Equal(t, original, joined)
}

func TestSplitSentencesThaiEnglish(t *testing.T) {
	got := splitSentences("This is English. ประโยคภาษาไทยแรก ประโยคที่สอง Another one.")
	require.Len(t, got, 5)

	// An uppercase Latin letter after whitespace starts a new sentence,
	// so "This is English." splits before "English".
	assert.Equal(t, "This is", got[0])
	assert.Equal(t, "English.", got[1])
	assert.Equal(t, "ประโยคภาษาไทยแรก", got[2])
	assert.Equal(t, "ประโยคที่สอง", got[3])
	assert.Equal(t, "Another one.", got[4])
}

func TestGenerateIDStable(t *testing.T) {
	a := GenerateID("km/nrw.md", 3)
	b := GenerateID("km/nrw.md", 3)
	other := GenerateID("km/nrw.md", 4)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.Len(t, a, 16)
}
