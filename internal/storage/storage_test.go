package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/apierror"
)

func TestDisabledStoreRejectsPut(t *testing.T) {
	var d Disabled
	assert.False(t, d.Configured())

	_, err := d.Put(context.Background(), "abc123", "png", []byte("x"))
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindObjectStoreUnconfigured, apiErr.Kind)
}

func TestFilesystemStorePutWritesContentAddressedPath(t *testing.T) {
	dir := t.TempDir()
	fs := &Filesystem{Root: dir}
	assert.True(t, fs.Configured())

	path, err := fs.Put(context.Background(), "deadbeef", "txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("observability", "files", "deadbeef.txt"), path)

	got, err := os.ReadFile(filepath.Join(dir, path))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestFilesystemStoreUnconfiguredWithEmptyRoot(t *testing.T) {
	var fs Filesystem
	assert.False(t, fs.Configured())

	_, err := fs.Put(context.Background(), "abc", "bin", []byte("x"))
	require.Error(t, err)
}

func TestExtSuffixNormalizesLeadingDot(t *testing.T) {
	assert.Equal(t, ".png", extSuffix("png"))
	assert.Equal(t, ".png", extSuffix(".png"))
	assert.Equal(t, "", extSuffix(""))
}
