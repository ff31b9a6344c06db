package document

import (
	"strings"
	"unicode"

	"github.com/wasilibs/go-re2"
)

// DefaultWindow is the fallback chunk size in runes for documents that
// have no paragraph breaks.
const DefaultWindow = 1500

var blankLines = re2.MustCompile(`\n\s*\n`)

// Chunker splits a document into ordered chunks.
type Chunker interface {
	Chunk(doc Document) ([]Chunk, error)
}

// ParagraphChunker splits on blank lines. A document that yields a single
// paragraph longer than the window is cut into windows instead, breaking at
// whitespace where possible.
type ParagraphChunker struct {
	window int
}

// NewParagraphChunker returns a chunker with the given fallback window.
// A non-positive window selects DefaultWindow.
func NewParagraphChunker(window int) *ParagraphChunker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &ParagraphChunker{window: window}
}

// Chunk implements Chunker. An empty or whitespace-only document yields no
// chunks and no error.
func (c *ParagraphChunker) Chunk(doc Document) ([]Chunk, error) {
	text, err := doc.Text()
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var parts []string
	for _, p := range blankLines.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	if len(parts) == 1 && len([]rune(parts[0])) > c.window {
		parts = splitWindows(parts[0], c.window)
	}

	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{Index: i + 1, Text: p})
	}
	return chunks, nil
}

// splitWindows cuts s into pieces of at most window runes. Each cut lands
// on the last whitespace in the second half of the window when there is one.
// Every cut advances by at least one rune.
func splitWindows(s string, window int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		if len(runes) <= window {
			if piece := strings.TrimSpace(string(runes)); piece != "" {
				out = append(out, piece)
			}
			break
		}

		cut := window
		for i := window - 1; i >= max(1, window/2); i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}

		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = runes[cut:]
	}
	return out
}
