package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgnsrekt/servalsync/internal/feed"
)

// ErrBadCollection is returned for collection names that would escape the
// store directory.
var ErrBadCollection = errors.New("invalid collection name")

// File keeps each collection's token in its own file under dir. Collection
// names containing "/" map to subdirectories.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a file-backed store. The directory is created on first save.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(collection string) (string, error) {
	rel := filepath.FromSlash(collection) + ".token"
	if collection == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrBadCollection, collection)
	}
	return filepath.Join(f.dir, rel), nil
}

// LoadToken reads the token file for collection. A missing file is not an error.
func (f *File) LoadToken(_ context.Context, collection string) (feed.Token, bool, error) {
	p, err := f.path(collection)
	if err != nil {
		return "", false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", false, nil
	}
	return feed.Token(tok), true, nil
}

// SaveToken writes token through a temp file and rename. An empty token
// removes the file.
func (f *File) SaveToken(_ context.Context, collection string, token feed.Token) error {
	p, err := f.path(collection)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if token == "" {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing token file: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(string(token)+"\n"), 0600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (f *File) Close() error {
	return nil
}
