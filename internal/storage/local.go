// Package storage keeps enrollment images on the local filesystem.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	// registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/google/uuid"
)

// LocalStore writes images under Dir with random names.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save stores data as <uuid>.<format> and returns its path.
func (s *LocalStore) Save(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := "bin"
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ext = format
	}
	if ext == "jpeg" {
		ext = "jpg"
	}

	path := filepath.Join(s.dir, uuid.NewString()+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// Remove deletes a previously saved image. Missing files are ignored.
func (s *LocalStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}
