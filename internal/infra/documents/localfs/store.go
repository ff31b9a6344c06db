// Package localfs stores uploaded documents on the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/domain/document"
)

var _ document.Store = (*Store)(nil)

// Store writes each document under root/<ref>/<name>. References are
// random UUIDs.
type Store struct {
	root string
}

// NewStore creates root if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create document root: %w", err)
	}
	return &Store{root: root}, nil
}

// Put writes content and returns its reference.
func (s *Store) Put(_ context.Context, name string, content []byte) (string, error) {
	ref := uuid.NewString()
	dir := filepath.Join(s.root, ref)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create document dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, safeName(name)), content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	return ref, nil
}

// Fetch reads the document stored under ref.
func (s *Store) Fetch(_ context.Context, ref string) (document.Document, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return document.Document{}, fmt.Errorf("%w: invalid reference %q", document.ErrDocumentNotFound, ref)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, ref))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(entries) == 0) {
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrDocumentNotFound, ref)
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to read document dir: %w", err)
	}

	name := entries[0].Name()
	content, err := os.ReadFile(filepath.Join(s.root, ref, name))
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to read document: %w", err)
	}
	return document.New(name, content), nil
}

// Delete removes the document stored under ref.
func (s *Store) Delete(_ context.Context, ref string) error {
	if _, err := uuid.Parse(ref); err != nil {
		return fmt.Errorf("%w: invalid reference %q", document.ErrDocumentNotFound, ref)
	}
	if err := os.RemoveAll(filepath.Join(s.root, ref)); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func safeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "document"
	}
	return base
}
