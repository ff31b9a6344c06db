package document

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMaxSize caps an uploaded document when no limit is configured.
const DefaultMaxSize int64 = 5 << 20

var (
	// ErrUnsupportedDocument is returned for uploads that are not plain
	// text or markdown.
	ErrUnsupportedDocument = errors.New("unsupported document format")

	// ErrDocumentTooLarge is returned for uploads over the size limit.
	ErrDocumentTooLarge = errors.New("document too large")
)

var supportedExtensions = map[string]struct{}{
	"":          {},
	".txt":      {},
	".text":     {},
	".md":       {},
	".markdown": {},
}

var supportedMediaTypes = map[string]struct{}{
	"":                         {},
	"text/plain":               {},
	"text/markdown":            {},
	"text/x-markdown":          {},
	"application/octet-stream": {},
}

// Limits describes what the upload edge accepts.
type Limits struct {
	MaxSize int64
}

// Check rejects documents that are too large or not plain text/markdown
// by name or declared content type.
func (l Limits) Check(name, contentType string, size int64) error {
	maxSize := l.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if size > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrDocumentTooLarge, size, maxSize)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := supportedExtensions[ext]; !ok {
		return fmt.Errorf("%w: extension %q", ErrUnsupportedDocument, ext)
	}

	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("%w: content type %q", ErrUnsupportedDocument, contentType)
		}
		if _, ok := supportedMediaTypes[mt]; !ok {
			return fmt.Errorf("%w: content type %q", ErrUnsupportedDocument, mt)
		}
	}
	return nil
}
