package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.hcl", "a/c.hcl", "a/notes.txt", ".cache/d.hcl"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o600))
	}

	files, err := FindFilesByExtension(dir, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a", "c.hcl"), filepath.Join(dir, "b.hcl")}, files)

	single, err := FindFilesByExtension(filepath.Join(dir, "a", "notes.txt"), ".hcl")
	require.NoError(t, err)
	assert.Len(t, single, 1, "an explicit file is taken as is")

	_, err = FindFilesByExtension(filepath.Join(dir, "a"), ".json")
	require.Error(t, err)
	_, err = FindFilesByExtension(filepath.Join(dir, "missing"), ".hcl")
	require.Error(t, err)
	assert.Panics(t, func() { _, _ = FindFilesByExtension(dir, "") })
}
