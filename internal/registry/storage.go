package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// sourceExt is the extension of stored provider sources.
const sourceExt = ".js"

// SourceStorage keeps installed provider sources in one directory,
// one file per install hash.
type SourceStorage struct {
	fs  afero.Fs
	dir string
}

// NewSourceStorage creates dir if needed.
func NewSourceStorage(fsys afero.Fs, dir string) (*SourceStorage, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create provider dir %s: %w", dir, err)
	}
	return &SourceStorage{fs: fsys, dir: dir}, nil
}

// Dir returns the storage directory.
func (s *SourceStorage) Dir() string {
	return s.dir
}

// PathFor returns where the source with hash is stored.
func (s *SourceStorage) PathFor(hash string) string {
	return filepath.Join(s.dir, hash+sourceExt)
}

// Write stores source under hash, replacing the file atomically.
func (s *SourceStorage) Write(hash, source string) (string, error) {
	path := s.PathFor(hash)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(source), 0o644); err != nil {
		return "", err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Read returns the stored source at path.
func (s *SourceStorage) Read(path string) (string, error) {
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remove deletes path. A missing file is not an error.
func (s *SourceStorage) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the stored source files in name order.
func (s *SourceStorage) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), sourceExt) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, info.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CleanupTemp removes leftover partial writes older than maxAge and
// returns how many were removed.
func (s *SourceStorage) CleanupTemp(maxAge time.Duration) (int, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".tmp") || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.Remove(filepath.Join(s.dir, info.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
