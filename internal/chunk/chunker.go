// Package chunk splits guideline documents into size-bounded,
// structure-aware retrieval units with deterministic identifiers.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	headerRe    = regexp.MustCompile(`^(#{2,3})\s+(.+)$`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
	sentenceRe  = regexp.MustCompile(`[.!?]\s+`)
)

// Chunker splits HTML, Markdown, or plain text into Chunks. Splitting
// follows structural boundaries (headings, paragraphs, sentences)
// rather than fixed windows so each chunk stays topically coherent.
type Chunker struct {
	targetSize int
	maxSize    int
	overlap    int
	logger     *slog.Logger
}

// NewChunker creates a Chunker. Non-positive parameters fall back to
// the package defaults.
func NewChunker(targetSize, maxSize, overlap int, logger *slog.Logger) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{
		targetSize: targetSize,
		maxSize:    maxSize,
		overlap:    overlap,
		logger:     logger,
	}
}

// Chunk dispatches on content type.
func (c *Chunker) Chunk(content, sourceURL, docTitle string, contentType ContentType) []Chunk {
	switch contentType {
	case ContentTypeHTML:
		return c.ChunkHTML(content, sourceURL, docTitle)
	case ContentTypeMarkdown:
		return c.ChunkMarkdown(content, sourceURL, docTitle)
	default:
		return c.ChunkText(content, sourceURL, docTitle)
	}
}

// ChunkHTML extracts the main content region of an HTML page,
// flattens it to heading/paragraph/list structured text, and chunks
// that text as markdown. Extraction failure falls back to chunking the
// raw input as plain text.
func (c *Chunker) ChunkHTML(html, sourceURL, docTitle string) []Chunk {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		c.logger.Error("failed to parse html, falling back to plain text",
			"source_url", sourceURL, "error", err)
		return c.ChunkText(html, sourceURL, docTitle)
	}

	if docTitle == "" {
		docTitle = strings.TrimSpace(doc.Find("title").First().Text())
		if docTitle == "" {
			docTitle = sourceURL
		}
	}

	// Probe for the main content region in priority order.
	region := doc.Selection
	for _, sel := range []string{"article", "main", "body"} {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			region = found
			break
		}
	}

	text := htmlToStructuredText(region)
	return c.ChunkMarkdown(text, sourceURL, docTitle)
}

// htmlToStructuredText flattens HTML to markdown-like text: headings
// become #-prefixed lines, paragraphs keep their text, list items
// become "- " lines. All other semantics are dropped deliberately.
func htmlToStructuredText(region *goquery.Selection) string {
	var lines []string

	region.Find("h1, h2, h3, h4, h5, h6, p, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch name := goquery.NodeName(s); name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(name[1] - '0')
			lines = append(lines, fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), text))
		case "p":
			lines = append(lines, text+"\n")
		case "li":
			lines = append(lines, "- "+text)
		}
	})

	return strings.Join(lines, "\n")
}

// ChunkMarkdown splits content into sections at level-2/3 heading
// boundaries. Text before the first heading becomes an "Introduction"
// section. Sections within the size ceiling come out as single chunks;
// oversized sections are split on sentence boundaries.
func (c *Chunker) ChunkMarkdown(content, sourceURL, docTitle string) []Chunk {
	if docTitle == "" {
		docTitle = sourceURL
	}

	var chunks []Chunk
	for _, sec := range splitByHeaders(content) {
		if sec.text == "" {
			continue
		}
		if len(sec.text) <= c.maxSize {
			chunks = append(chunks, c.newChunk(sec.text, sourceURL, docTitle, sec.title, len(chunks)))
			continue
		}
		for _, sub := range c.splitLongSection(sec.text) {
			chunks = append(chunks, c.newChunk(sub, sourceURL, docTitle, sec.title, len(chunks)))
		}
	}

	c.logger.Info("chunked document", "source_url", sourceURL, "chunks", len(chunks))
	return chunks
}

// ChunkText splits plain text on blank-line paragraph boundaries,
// accumulating paragraphs until the size ceiling would be crossed.
// Each emitted chunk seeds the next with its trailing overlap so a
// concept split across the boundary stays findable from either side.
func (c *Chunker) ChunkText(content, sourceURL, docTitle string) []Chunk {
	if docTitle == "" {
		docTitle = sourceURL
	}

	paragraphs := paragraphRe.Split(content, -1)

	var chunks []Chunk
	var current string

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current != "" && len(current)+len(para) > c.maxSize {
			chunks = append(chunks, c.newChunk(current, sourceURL, docTitle, "Content", len(chunks)))

			if c.overlap > 0 {
				current = tail(current, c.overlap) + "\n\n" + para
			} else {
				current = para
			}
		} else if current != "" {
			current += "\n\n" + para
		} else {
			current = para
		}
	}

	if current != "" {
		chunks = append(chunks, c.newChunk(current, sourceURL, docTitle, "Content", len(chunks)))
	}

	c.logger.Info("chunked document", "source_url", sourceURL, "chunks", len(chunks))
	return chunks
}

type section struct {
	title string
	text  string
}

// splitByHeaders splits markdown at ## and ### heading lines. The
// heading line stays at the top of its section's text.
func splitByHeaders(content string) []section {
	var sections []section
	currentTitle := "Introduction"
	var currentLines []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(currentLines, "\n"))
		sections = append(sections, section{title: currentTitle, text: text})
	}

	for _, line := range strings.Split(content, "\n") {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			if len(currentLines) > 0 {
				flush()
			}
			currentTitle = strings.TrimSpace(m[2])
			currentLines = []string{line}
			continue
		}
		currentLines = append(currentLines, line)
	}
	if len(currentLines) > 0 {
		flush()
	}

	return sections
}

// splitLongSection splits an oversized section on sentence boundaries,
// with the same trailing-overlap carry-over as paragraph accumulation.
// A single sentence longer than the ceiling is kept whole rather than
// truncated.
func (c *Chunker) splitLongSection(text string) []string {
	sentences := splitSentences(text)

	var out []string
	var current string

	for _, sentence := range sentences {
		if current != "" && len(current)+len(sentence) > c.maxSize {
			out = append(out, strings.TrimSpace(current))

			if c.overlap > 0 {
				current = tail(current, c.overlap) + " " + sentence
			} else {
				current = sentence
			}
		} else if current != "" {
			current += " " + sentence
		} else {
			current = sentence
		}
	}

	if current != "" {
		out = append(out, strings.TrimSpace(current))
	}

	return out
}

// splitSentences cuts text after terminal punctuation followed by
// whitespace. The punctuation stays with its sentence; the whitespace
// run is dropped.
func splitSentences(text string) []string {
	matches := sentenceRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	var sentences []string
	prev := 0
	for _, m := range matches {
		// m[0] is the punctuation character, m[1] the end of the
		// whitespace run.
		sentences = append(sentences, text[prev:m[0]+1])
		prev = m[1]
	}
	if prev < len(text) {
		sentences = append(sentences, text[prev:])
	}
	return sentences
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// ChunkID derives the deterministic chunk identifier.
func ChunkID(sourceURL, section string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", sourceURL, section, index)))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Chunker) newChunk(text, sourceURL, docTitle, section string, index int) Chunk {
	return Chunk{
		ID:        ChunkID(sourceURL, section, index),
		Text:      text,
		SourceURL: sourceURL,
		DocTitle:  docTitle,
		Section:   section,
		Index:     index,
		CharCount: len(text),
	}
}
