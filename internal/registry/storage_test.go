package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceStorage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewSourceStorage(fsys, "/data/providers")
	require.NoError(t, err)

	path, err := s.Write("b", "two")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/providers", "b.js"), path)
	_, err = s.Write("a", "one")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, "/data/providers/notes.txt", []byte("x"), 0o644))

	paths, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/providers/a.js", "/data/providers/b.js"}, paths)

	src, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "two", src)

	require.NoError(t, s.Remove(path))
	require.NoError(t, s.Remove(path), "removing a missing file is fine")
	require.NoError(t, s.Remove(""))

	paths, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/providers/a.js"}, paths)
}

func TestSourceStorageCleanupTemp(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewSourceStorage(fsys, "/p")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/p/old.js.tmp", []byte("x"), 0o644))
	require.NoError(t, fsys.Chtimes("/p/old.js.tmp", time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour)))
	require.NoError(t, afero.WriteFile(fsys, "/p/fresh.js.tmp", []byte("x"), 0o644))
	_, err = s.Write("keep", "source")
	require.NoError(t, err)

	removed, err := s.CleanupTemp(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, _ := afero.Exists(fsys, "/p/old.js.tmp")
	assert.False(t, exists)
	exists, _ = afero.Exists(fsys, "/p/fresh.js.tmp")
	assert.True(t, exists)
	exists, _ = afero.Exists(fsys, "/p/keep.js")
	assert.True(t, exists)
}
