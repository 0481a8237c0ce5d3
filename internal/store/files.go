// ABOUTME: Disk-backed attachment storage addressed by attachment id
// ABOUTME: Ids are generated server-side, so paths never derive from user input

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DiskFiles stores attachment payloads as flat files under one
// directory, named by attachment id.
type DiskFiles struct {
	dir string
}

// NewDiskFiles creates the directory if needed and returns the store.
func NewDiskFiles(dir string) (*DiskFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment directory: %w", err)
	}
	return &DiskFiles{dir: dir}, nil
}

// SaveFile stores a payload and returns the generated attachment id.
func (f *DiskFiles) SaveFile(_ context.Context, data []byte) (string, error) {
	id := uuid.New().String()
	if err := os.WriteFile(filepath.Join(f.dir, id), data, 0o644); err != nil {
		return "", fmt.Errorf("writing attachment %s: %w", id, err)
	}
	return id, nil
}

// ReadFile loads an attachment payload by id.
func (f *DiskFiles) ReadFile(_ context.Context, id string) ([]byte, error) {
	// Ids are uuids; reject anything that could traverse.
	if strings.ContainsAny(id, "/\\") || id == "" || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid attachment id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// DeleteFile removes an attachment payload. Missing files are not an
// error.
func (f *DiskFiles) DeleteFile(_ context.Context, id string) error {
	if strings.ContainsAny(id, "/\\") || id == "" {
		return fmt.Errorf("invalid attachment id %q", id)
	}
	err := os.Remove(filepath.Join(f.dir, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
