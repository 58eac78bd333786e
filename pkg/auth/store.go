// ABOUTME: Credential Store persisting one Token Record to a file
// ABOUTME: Loads never touch the network; saves replace the file atomically

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Store reads and writes the single persisted Token Record.
// Implementations take no locks; the Refresher serializes writers.
type Store interface {
	Load(ctx context.Context) (TokenRecord, error)
	Save(ctx context.Context, rec TokenRecord) error
}

// FileStore keeps the record as JSON at Path.
type FileStore struct {
	Path string
}

// NewFileStore returns a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the record. A missing file yields ErrNotFound.
func (s *FileStore) Load(_ context.Context) (TokenRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return TokenRecord{}, ErrNotFound
		}
		return TokenRecord{}, &IOError{Op: "read", Path: s.Path, Err: err}
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TokenRecord{}, &IOError{Op: "decode", Path: s.Path, Err: err}
	}
	return rec, nil
}

// Save writes the record to a temp file in the same directory and renames it
// over the previous one, so a crash mid-write keeps the last good token.
func (s *FileStore) Save(_ context.Context, rec TokenRecord) error {
	if err := s.save(rec); err != nil {
		return &IOError{Op: "write", Path: s.Path, Err: err}
	}
	return nil
}

func (s *FileStore) save(rec TokenRecord) error {
	if err := EnsureDir(s.Path); err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	tmpFile, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	// Restrict permissions before any secret is written.
	if err := tmpFile.Chmod(0600); err != nil {
		_ = tmpFile.Close()
		return err
	}

	enc := json.NewEncoder(tmpFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.Path); err != nil {
		return err
	}

	success = true
	return nil
}

// Remove deletes the token file. A missing file is not an error.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "remove", Path: s.Path, Err: err}
	}
	return nil
}
