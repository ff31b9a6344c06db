// Package document defines the documents submitted for compliance scanning
// and how they are split into chunks for evaluation.
package document

import (
	"errors"
	"unicode/utf8"
)

// ErrUnreadableDocument is returned when the content is not valid text.
var ErrUnreadableDocument = errors.New("document is not readable text")

// Document is an uploaded plain-text or markdown document.
type Document struct {
	Name    string
	Content []byte
}

// New creates a Document.
func New(name string, content []byte) Document {
	return Document{Name: name, Content: content}
}

// Text returns the document content as a string after checking it is
// UTF-8 text without NUL bytes.
func (d Document) Text() (string, error) {
	if !utf8.Valid(d.Content) {
		return "", ErrUnreadableDocument
	}
	for _, b := range d.Content {
		if b == 0 {
			return "", ErrUnreadableDocument
		}
	}
	return string(d.Content), nil
}

// Chunk is a contiguous, non-empty unit of document text. Index is 1-based
// and stable for a given document and chunker configuration.
type Chunk struct {
	Index int
	Text  string
}
