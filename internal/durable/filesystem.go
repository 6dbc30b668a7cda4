package durable

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"skein-go/internal/skein"
)

// FileSystemStore is a filesystem-based implementation of skein.DurableStore.
// Each entry is one file under root, named by the base64url encoding of its
// key so any key is a valid file name:
//
//	<root>/
//	  <base64url(key)>
//
// Writes are atomic (temp file + rename), so a crash never leaves a torn entry.
type FileSystemStore struct {
	name string
	root string
}

// NewFileSystemStore creates a store rooted at the given directory, creating it if needed.
func NewFileSystemStore(name, root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileSystemStore{name: name, root: root}, nil
}

var keyEncoding = base64.RawURLEncoding

func (s *FileSystemStore) path(key string) string {
	return filepath.Join(s.root, keyEncoding.EncodeToString([]byte(key)))
}

func (s *FileSystemStore) Name() string { return s.name }

func (s *FileSystemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read entry %s: %w", key, err)
	}
	return data, true, nil
}

func (s *FileSystemStore) Set(_ context.Context, key string, value []byte) error {
	return s.writeFile(s.path(key), value)
}

func (s *FileSystemStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete entry %s: %w", key, err)
	}
	return nil
}

func (s *FileSystemStore) Keys(context.Context) ([]string, error) {
	entries, err := s.list()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileSystemStore) Usage(context.Context) (int64, error) {
	entries, err := s.list()
	if err != nil {
		return 0, err
	}
	var total int64
	for key, size := range entries {
		total += int64(len(key)) + size
	}
	return total, nil
}

// list returns every stored key with its value size. Leftover temp files and
// names that are not encoded keys are skipped.
func (s *FileSystemStore) list() (map[string]int64, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	entries := make(map[string]int64, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".tmp-") {
			continue
		}
		key, err := keyEncoding.DecodeString(de.Name())
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat entry: %w", err)
		}
		entries[string(key)] = info.Size()
	}
	return entries, nil
}

// Close is a no-op; every write is already on disk.
func (s *FileSystemStore) Close() error { return nil }

// writeFile writes data to the specified path using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, data []byte) error {
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements skein.DurableStore.
var _ skein.DurableStore = (*FileSystemStore)(nil)
