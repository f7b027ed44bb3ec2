package reclaim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"groupbin/internal/blobstore"
	"groupbin/internal/clock"
	"groupbin/internal/metastore"
	"groupbin/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T, now time.Time) (*Loop, *metastore.Store, *blobstore.Store, string) {
	t.Helper()
	root := t.TempDir()
	dbPath := filepath.Join(root, "groupbin.db")

	meta, err := metastore.Open(dbPath, metastore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	uploadRoot := filepath.Join(root, "uploads")
	blobs := blobstore.New(uploadRoot)

	fixed := clock.NewFixed(now)
	loop := New(Config{
		Meta:        meta,
		Blobs:       blobs,
		Clock:       fixed,
		UploadRoot:  uploadRoot,
		DataHorizon: 72 * time.Hour,
		DBHorizon:   144 * time.Hour,
		ChunkTTL:    24 * time.Hour,
	})
	return loop, meta, blobs, uploadRoot
}

func TestRunCycleHardDeletesOldGroups(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loop, meta, blobs, uploadRoot := newTestLoop(t, now)
	ctx := context.Background()

	g := model.Group{ID: uuid.NewString(), CreatedAt: now.Add(-200 * time.Hour), ExpiresAt: now.Add(-150 * time.Hour)}
	require.NoError(t, meta.CreateGroup(ctx, g))
	require.NoError(t, blobs.EnsureGroupDir(g.ID))

	loop.RunCycle(ctx)

	_, err := meta.GetGroup(ctx, g.ID)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(uploadRoot, g.ID))
	require.True(t, os.IsNotExist(statErr))
}

func TestRunCycleRemovesDataForDataExpiredGroupButKeepsRow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loop, meta, blobs, uploadRoot := newTestLoop(t, now)
	ctx := context.Background()

	g := model.Group{ID: uuid.NewString(), CreatedAt: now.Add(-100 * time.Hour), ExpiresAt: now.Add(-80 * time.Hour)}
	require.NoError(t, meta.CreateGroup(ctx, g))
	require.NoError(t, blobs.EnsureGroupDir(g.ID))

	loop.RunCycle(ctx)

	got, err := meta.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, g.ID, got.ID)

	_, statErr := os.Stat(filepath.Join(uploadRoot, g.ID))
	require.True(t, os.IsNotExist(statErr))
}

func TestRunCyclePrunesOrphanChunkDirectories(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loop, _, _, uploadRoot := newTestLoop(t, now)
	ctx := context.Background()

	staleDir := filepath.Join(uploadRoot, "tmp", "stale-upload")
	require.NoError(t, os.MkdirAll(staleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staleDir, "1"), []byte("x"), 0o644))

	old := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(staleDir, old, old))

	loop.RunCycle(ctx)

	_, err := os.Stat(staleDir)
	require.True(t, os.IsNotExist(err))
}

func TestRunCycleKeepsFreshChunkDirectories(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loop, _, _, uploadRoot := newTestLoop(t, now)
	ctx := context.Background()

	freshDir := filepath.Join(uploadRoot, "tmp", "fresh-upload")
	require.NoError(t, os.MkdirAll(freshDir, 0o755))

	loop.RunCycle(ctx)

	_, err := os.Stat(freshDir)
	require.NoError(t, err)
}

func TestStartStopIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loop, _, _, _ := newTestLoop(t, now)
	loop.cfg.CyclePeriod = time.Minute

	loop.Start()
	loop.Start()
	loop.Stop()
	loop.Stop()
}

func TestZeroPeriodDisablesLoop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loop, _, _, _ := newTestLoop(t, now)
	loop.cfg.CyclePeriod = 0

	loop.Start()
	require.False(t, loop.started)
}
