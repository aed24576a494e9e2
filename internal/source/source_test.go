package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestOS_List(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.md"), "beta")
	writeFile(t, filepath.Join(root, ".git", "config"), "skip")
	writeFile(t, filepath.Join(root, "node_modules", "pkg.json"), "skip")
	writeFile(t, filepath.Join(root, ".hidden.txt"), "skip")

	s := NewOS(0)
	files, err := s.List(context.Background(), root)
	require.NoError(t, err)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
		assert.True(t, filepath.IsAbs(f.Path))
	}
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.md"),
	}, paths)
}

func TestOS_ListSizeLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "small.txt"), "ok")
	writeFile(t, filepath.Join(root, "big.txt"), "0123456789abcdef")

	s := NewOS(8)
	files, err := s.List(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "small.txt"), files[0].Path)
}

func TestOS_Open(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "alpha")

	s := NewOS(0)
	rc, err := s.Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}

func TestOS_ListCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewOS(0)
	_, err := s.List(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}
