package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlob stores history blobs on the local filesystem, rooted at a data
// directory. Used in development; deployed environments use RedisBlob.
type FileBlob struct {
	root string
}

var _ Blob = (*FileBlob)(nil)

// NewFileBlob creates a filesystem-backed blob store rooted at root.
func NewFileBlob(root string) *FileBlob {
	if root == "" {
		root = "./data/games"
	}
	return &FileBlob{root: root}
}

func (f *FileBlob) Ping(ctx context.Context) error {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("data directory unavailable: %w", err)
	}
	return nil
}

func (f *FileBlob) Close() error {
	return nil
}

func (f *FileBlob) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (f *FileBlob) Write(ctx context.Context, path string, data []byte) error {
	full := filepath.Join(f.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (f *FileBlob) List(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, filepath.FromSlash(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (f *FileBlob) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}
