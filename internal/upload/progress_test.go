package upload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressCacheMarkAndHas(t *testing.T) {
	cache, err := OpenProgressCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	present, ok := cache.Has("id1", 1)
	require.True(t, ok)
	require.False(t, present)

	cache.MarkPresent("id1", 1)
	present, ok = cache.Has("id1", 1)
	require.True(t, ok)
	require.True(t, present)
}

func TestProgressCacheForgetUpload(t *testing.T) {
	cache, err := OpenProgressCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	cache.MarkPresent("id2", 1)
	cache.MarkPresent("id2", 2)
	cache.ForgetUpload("id2", 2)

	present, ok := cache.Has("id2", 1)
	require.True(t, ok)
	require.False(t, present)
}

func TestNilProgressCacheIsSafe(t *testing.T) {
	var cache *ProgressCache
	_, ok := cache.Has("id", 1)
	require.False(t, ok)
	cache.MarkPresent("id", 1)
	cache.ForgetUpload("id", 1)
	require.NoError(t, cache.Close())
}
