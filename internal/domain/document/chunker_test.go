package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphChunker_Chunk(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "empty document",
			content: "",
			want:    nil,
		},
		{
			name:    "whitespace only",
			content: "  \n\n\t\r\n  ",
			want:    nil,
		},
		{
			name:    "single paragraph",
			content: "We collect email addresses.",
			want:    []string{"We collect email addresses."},
		},
		{
			name:    "blank line separated paragraphs",
			content: "First paragraph.\n\nSecond paragraph\nstill second.\n\n\nThird.",
			want:    []string{"First paragraph.", "Second paragraph\nstill second.", "Third."},
		},
		{
			name:    "crlf and whitespace-only separator lines",
			content: "Alpha.\r\n  \r\nBeta.\r\n\r\n",
			want:    []string{"Alpha.", "Beta."},
		},
	}

	c := NewParagraphChunker(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := c.Chunk(New("doc.txt", []byte(tt.content)))
			require.NoError(t, err)
			require.Len(t, chunks, len(tt.want))
			for i, ch := range chunks {
				assert.Equal(t, i+1, ch.Index)
				assert.Equal(t, tt.want[i], ch.Text)
			}
		})
	}
}

func TestParagraphChunker_WindowFallback(t *testing.T) {
	words := strings.Repeat("lorem ipsum ", 50) // 600 runes, no blank lines
	c := NewParagraphChunker(100)

	chunks, err := c.Chunk(New("long.txt", []byte(words)))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var rebuilt []string
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.Index)
		assert.LessOrEqual(t, len([]rune(ch.Text)), 100)
		assert.NotEmpty(t, ch.Text)
		assert.False(t, strings.HasPrefix(ch.Text, "psum"), "window cut inside a word")
		rebuilt = append(rebuilt, ch.Text)
	}
	assert.Equal(t, strings.Fields(words), strings.Fields(strings.Join(rebuilt, " ")))
}

func TestParagraphChunker_NoWhitespaceWindow(t *testing.T) {
	c := NewParagraphChunker(10)
	chunks, err := c.Chunk(New("blob.txt", []byte(strings.Repeat("x", 25))))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("x", 10), chunks[0].Text)
	assert.Equal(t, strings.Repeat("x", 5), chunks[2].Text)
}

func TestParagraphChunker_SmallWindows(t *testing.T) {
	for _, window := range []int{1, 2, 3} {
		chunks, err := NewParagraphChunker(window).Chunk(New("a.txt", []byte(" a b  cd ")))
		require.NoError(t, err)

		var rebuilt []string
		for _, ch := range chunks {
			assert.LessOrEqual(t, len([]rune(ch.Text)), window)
			rebuilt = append(rebuilt, ch.Text)
		}
		assert.Equal(t, "abcd", strings.Join(strings.Fields(strings.Join(rebuilt, "")), ""))
	}
}

func TestParagraphChunker_SingleParagraphWithSurroundingBlankLines(t *testing.T) {
	content := "\n\n  \n" + strings.Repeat("lorem ipsum ", 50) + "\n\n\n"
	c := NewParagraphChunker(100)

	chunks, err := c.Chunk(New("padded.txt", []byte(content)))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Text)), 100)
	}
}

func TestParagraphChunker_Deterministic(t *testing.T) {
	content := []byte("Policy A.\n\nPolicy B covers retention.\n\n" + strings.Repeat("word ", 400))
	c := NewParagraphChunker(200)

	first, err := c.Chunk(New("p.md", content))
	require.NoError(t, err)
	second, err := c.Chunk(New("p.md", content))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParagraphChunker_Unreadable(t *testing.T) {
	c := NewParagraphChunker(0)

	_, err := c.Chunk(New("bin", []byte{0xff, 0xfe, 0x00}))
	assert.ErrorIs(t, err, ErrUnreadableDocument)

	_, err = c.Chunk(New("nul", []byte("abc\x00def")))
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}
