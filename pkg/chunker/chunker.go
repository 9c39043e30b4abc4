// Package chunker splits markdown documents into overlapping chunks
// sized for embedding and retrieval.
package chunker

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"waris-go/internal/model"
)

// Default chunk settings. Sizes are in tokens; CharsPerToken is a rough
// estimate for mixed Thai and English text.
const (
	DefaultChunkSize     = 512
	DefaultChunkOverlap  = 50
	DefaultCharsPerToken = 4
)

var sectionHeaderRe = regexp.MustCompile(`(?m)^## (.+)$`)

// Chunker splits documents into overlapping chunks.
type Chunker struct {
	maxChars     int
	overlapChars int
}

// New creates a Chunker. Zero or negative arguments fall back to the
// defaults. An overlap at least as large as the chunk size is a
// configuration error: every chunk would consist of its predecessor.
func New(chunkSize, chunkOverlap, charsPerToken int) (*Chunker, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize)
	}
	return &Chunker{
		maxChars:     chunkSize * charsPerToken,
		overlapChars: chunkOverlap * charsPerToken,
	}, nil
}

// ChunkDocument splits a markdown document into chunks. Frontmatter is
// parsed for title and category when the caller leaves them empty; section
// headers are re-attached to each chunk so retrieval keeps the context.
func (c *Chunker) ChunkDocument(content, source, category, title string) []model.DocumentChunk {
	meta, body := parseFrontmatter(content)

	if title == "" {
		if v, ok := meta["title"]; ok && v != "" {
			title = v
		} else {
			base := filepath.Base(source)
			title = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	if category == "" {
		if v, ok := meta["category"]; ok && v != "" {
			category = v
		} else {
			category = "general"
		}
	}

	var chunks []model.DocumentChunk
	chunkIndex := 0

	for _, sec := range splitSections(body) {
		for _, text := range c.chunkText(sec.content) {
			if sec.title != "" {
				text = fmt.Sprintf("## %s\n\n%s", sec.title, text)
			}
			chunks = append(chunks, model.DocumentChunk{
				ID:         GenerateID(source, chunkIndex),
				Content:    strings.TrimSpace(text),
				Source:     source,
				Category:   category,
				Title:      title,
				ChunkIndex: chunkIndex,
			})
			chunkIndex++
		}
	}

	return chunks
}

// GenerateID derives a stable chunk ID from the source path and chunk
// index, so re-indexing a document overwrites its previous chunks.
func GenerateID(source string, chunkIndex int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", source, chunkIndex)))
	return fmt.Sprintf("%x", sum)[:16]
}

// parseFrontmatter strips a leading YAML frontmatter block and returns its
// scalar key-value pairs along with the remaining body.
func parseFrontmatter(content string) (map[string]string, string) {
	meta := make(map[string]string)
	body := content

	if strings.HasPrefix(content, "---") {
		parts := strings.SplitN(content, "---", 3)
		if len(parts) >= 3 {
			frontmatter := strings.TrimSpace(parts[1])
			body = strings.TrimSpace(parts[2])

			for _, line := range strings.Split(frontmatter, "\n") {
				key, value, ok := strings.Cut(line, ":")
				if !ok {
					continue
				}
				meta[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `'"`)
			}
		}
	}

	return meta, body
}

type section struct {
	title   string
	content string
}

// splitSections splits the body on level-2 markdown headers. Content
// before the first header keeps an empty section title.
func splitSections(content string) []section {
	matches := sectionHeaderRe.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return []section{{content: strings.TrimSpace(content)}}
	}

	var sections []section
	if head := strings.TrimSpace(content[:matches[0][0]]); head != "" {
		sections = append(sections, section{content: head})
	}
	for i, m := range matches {
		title := strings.TrimSpace(content[m[2]:m[3]])
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(content[m[1]:end])
		if body != "" {
			sections = append(sections, section{title: title, content: body})
		}
	}
	return sections
}

// chunkText splits text into chunks of at most maxChars, preferring
// paragraph boundaries, then sentence boundaries for oversized paragraphs,
// and finally prepends an overlap taken from the end of the previous chunk.
func (c *Chunker) chunkText(text string) []string {
	if len(text) <= c.maxChars {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	var current string

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(current)+len(para)+2 <= c.maxChars {
			if current != "" {
				current += "\n\n"
			}
			current += para
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}

		if len(para) > c.maxChars {
			current = ""
			for _, sent := range splitSentences(para) {
				if len(current)+len(sent)+1 <= c.maxChars {
					if current != "" {
						current += " "
					}
					current += sent
				} else {
					if current != "" {
						chunks = append(chunks, current)
					}
					current = sent
				}
			}
		} else {
			current = para
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	if len(chunks) > 1 && c.overlapChars > 0 {
		overlapped := []string{chunks[0]}
		for i := 1; i < len(chunks); i++ {
			prev := chunks[i-1]
			overlap := prev
			if len(prev) > c.overlapChars {
				// Advance to a rune boundary; Thai text has no spaces to
				// cut on and must not be split mid-character.
				cut := len(prev) - c.overlapChars
				for cut < len(prev) && !utf8.RuneStart(prev[cut]) {
					cut++
				}
				overlap = prev[cut:]
			}
			// Cut at a space so the overlap does not start mid-word.
			if idx := strings.LastIndex(overlap, " "); idx > 0 {
				overlap = strings.TrimSpace(overlap[idx:])
			}
			overlapped = append(overlapped, fmt.Sprintf("...%s\n\n%s", overlap, chunks[i]))
		}
		return overlapped
	}

	return chunks
}

// splitSentences splits text at sentence boundaries for mixed Thai and
// English. A boundary is either whitespace after terminal punctuation, or
// whitespace followed by a Thai character or an uppercase Latin letter.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	appendSentence := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if isTerminal(r) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			appendSentence(string(runes[start : i+1]))
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j - 1
			continue
		}
		if i > start && unicode.IsSpace(runes[i-1]) && startsSentence(r) {
			appendSentence(string(runes[start:i]))
			start = i
		}
	}
	if start < len(runes) {
		appendSentence(string(runes[start:]))
	}

	return sentences
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。'
}

func startsSentence(r rune) bool {
	return (r >= 'ก' && r <= '๙') || (r >= 'A' && r <= 'Z')
}
