package fay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactCachePutGet(t *testing.T) {
	cache := NewArtifactCache(t.TempDir(), nil)

	tree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "usr", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "usr", "bin", "zlib-config"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "usr", "README"), []byte("zlib\n"), 0o644))

	assert.False(t, cache.Has("zlib", "1.3.1"))

	p, err := cache.Put("zlib", "1.3.1", tree)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache.Dir, "zlib-1.3.1.pkg.tar.zst"), p)
	assert.True(t, cache.Has("zlib", "1.3.1"))

	// The sidecar hash must match the artifact it describes.
	sidecar, err := os.ReadFile(p + ".b3")
	require.NoError(t, err)
	sum, err := hashFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), sum)
	assert.Contains(t, string(sidecar), "zlib-1.3.1.pkg.tar.zst")

	got, err := cache.Get(context.Background(), "zlib", "1.3.1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	// Round trip: installing the artifact reproduces the tree.
	root := t.TempDir()
	paths, err := extractPackage(got, root)
	require.NoError(t, err)
	assert.Contains(t, paths, "usr/bin/zlib-config")
	assert.Contains(t, paths, "usr/README")
	data, err := os.ReadFile(filepath.Join(root, "usr", "README"))
	require.NoError(t, err)
	assert.Equal(t, "zlib\n", string(data))
	info, err := os.Stat(filepath.Join(root, "usr", "bin", "zlib-config"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestArtifactCacheMiss(t *testing.T) {
	cache := NewArtifactCache(t.TempDir(), nil)
	_, err := cache.Get(context.Background(), "gcc", "16.0.1")
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestArtifactCachePutShadowsPrevious(t *testing.T) {
	cache := NewArtifactCache(t.TempDir(), nil)

	tree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tree, "one"), []byte("first"), 0o644))
	_, err := cache.Put("pkg", "1.0", tree)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(tree, "one"), []byte("second"), 0o644))
	p, err := cache.Put("pkg", "1.0", tree)
	require.NoError(t, err)

	root := t.TempDir()
	_, err = extractPackage(p, root)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "one"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestArtifactCachePushWithoutMirror(t *testing.T) {
	cache := NewArtifactCache(t.TempDir(), nil)
	assert.NoError(t, cache.Push(context.Background(), "anything", "1.0"))
}
