package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"evalgo.org/gridstore/models"
)

// Files stores objects as local files. Keys are file paths.
type Files struct{}

// Get opens the file key.
func (Files) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, models.ErrNotFound)
	}
	return f, err
}

// Put writes r to the file key, creating parent directories.
func (Files) Put(_ context.Context, key string, r io.Reader) error {
	if dir := filepath.Dir(key); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
