package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"groupbin/internal/apperr"
	"groupbin/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groupbin.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newGroup(now time.Time) model.Group {
	return model.Group{
		ID:                     uuid.NewString(),
		Name:                   "test group",
		CreatedAt:              now,
		ExpiresAt:              now.Add(24 * time.Hour),
		CreatedDurationHours:   24,
		AllowConvertToReadonly: true,
	}
}

func TestCreateAndGetGroup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g := newGroup(now)
	require.NoError(t, store.CreateGroup(ctx, g))

	got, err := store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, g.ID, got.ID)
	require.Equal(t, g.Name, got.Name)
	require.True(t, got.CreatedAt.Equal(now))
	require.False(t, got.IsReadonly)
}

func TestGetGroupNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetGroup(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateGroupExpiryAndReadonly(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g := newGroup(now)
	require.NoError(t, store.CreateGroup(ctx, g))

	newExpiry := now.Add(48 * time.Hour)
	require.NoError(t, store.UpdateGroupExpiry(ctx, g.ID, newExpiry))
	got, err := store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, got.ExpiresAt.Equal(newExpiry))

	require.NoError(t, store.SetGroupReadonly(ctx, g.ID))
	got, err = store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, got.IsReadonly)
}

func TestUpdateGroupExpiryMissingReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	err := store.UpdateGroupExpiry(context.Background(), "missing", time.Now())
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateFileWithInitialVersionAndCascadeDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g := newGroup(now)
	require.NoError(t, store.CreateGroup(ctx, g))

	fileID := uuid.NewString()
	versionID := uuid.NewString()
	f := model.File{
		ID: fileID, GroupID: g.ID, OriginalFilename: "report.pdf",
		StoredFilename: "stored1.bin", Size: 100, UploadedAt: now, ContentType: "application/pdf",
	}
	v := model.FileVersion{
		ID: versionID, FileID: fileID, StoredFilename: "stored1.bin",
		UploadedAt: now, Size: 100,
	}
	require.NoError(t, store.CreateFileWithInitialVersion(ctx, f, v))

	gotFile, err := store.GetFile(ctx, g.ID, fileID)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", gotFile.OriginalFilename)

	versions, err := store.ListVersions(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	require.NoError(t, store.DeleteGroup(ctx, g.ID))
	_, err = store.GetFile(ctx, g.ID, fileID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	versions, err = store.ListVersions(ctx, fileID)
	require.NoError(t, err)
	require.Empty(t, versions)
}

func TestAppendVersionOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g := newGroup(now)
	require.NoError(t, store.CreateGroup(ctx, g))

	fileID := uuid.NewString()
	v1 := model.FileVersion{ID: uuid.NewString(), FileID: fileID, StoredFilename: "s1", UploadedAt: now, Size: 10}
	f := model.File{ID: fileID, GroupID: g.ID, OriginalFilename: "a.txt", StoredFilename: "s1", Size: 10, UploadedAt: now}
	require.NoError(t, store.CreateFileWithInitialVersion(ctx, f, v1))

	v2 := model.FileVersion{ID: uuid.NewString(), FileID: fileID, StoredFilename: "s2", UploadedAt: now.Add(time.Hour), Size: 20}
	require.NoError(t, store.AppendVersion(ctx, v2))

	versions, err := store.ListVersions(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, v2.ID, versions[0].ID)
	require.Equal(t, v1.ID, versions[1].ID)
}

func TestDeleteFileCascadesVersions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g := newGroup(now)
	require.NoError(t, store.CreateGroup(ctx, g))

	fileID := uuid.NewString()
	f := model.File{ID: fileID, GroupID: g.ID, OriginalFilename: "a.txt", StoredFilename: "s1", Size: 10, UploadedAt: now}
	v := model.FileVersion{ID: uuid.NewString(), FileID: fileID, StoredFilename: "s1", UploadedAt: now, Size: 10}
	require.NoError(t, store.CreateFileWithInitialVersion(ctx, f, v))

	require.NoError(t, store.DeleteFile(ctx, fileID))
	_, err := store.GetFile(ctx, g.ID, fileID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	versions, err := store.ListVersions(ctx, fileID)
	require.NoError(t, err)
	require.Empty(t, versions)
}

func TestGroupsExpiringBefore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	expired := newGroup(now)
	expired.ExpiresAt = now.Add(-time.Hour)
	fresh := newGroup(now)
	fresh.ExpiresAt = now.Add(time.Hour)

	require.NoError(t, store.CreateGroup(ctx, expired))
	require.NoError(t, store.CreateGroup(ctx, fresh))

	results, err := store.GroupsExpiringBefore(ctx, now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, expired.ID, results[0].ID)
}

func TestOrphanSweeps(t *testing.T) {
	ctx := context.Background()
	// Foreign keys are off for this store so that rows referencing a
	// nonexistent parent can be inserted at all.
	foreignKeys := false
	store, err := Open(filepath.Join(t.TempDir(), "groupbin.db"), Options{ForeignKeys: &foreignKeys})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	keep := map[string]struct{}{}

	orphanFileID := uuid.NewString()
	orphanVersionID := uuid.NewString()
	// Directly insert rows referencing a nonexistent group/file, bypassing
	// the normal create path (simulates drift left by a half-finished
	// cascade).
	_, err = store.db.ExecContext(ctx, `INSERT INTO files
		(id, group_id, original_filename, stored_filename, description, size, uploaded_at, content_type)
		VALUES (?, ?, ?, ?, '', ?, ?, '')`,
		orphanFileID, "nonexistent-group", "x.txt", "sx", 1, formatTime(now))
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO file_versions
		(id, file_id, stored_filename, uploaded_at, uploader, comment, size)
		VALUES (?, ?, ?, ?, '', '', ?)`,
		orphanVersionID, "nonexistent-file", "sx", formatTime(now), 1)
	require.NoError(t, err)

	orphanFiles, err := store.FilesWithGroupNotIn(ctx, keep)
	require.NoError(t, err)
	require.Len(t, orphanFiles, 1)
	require.Equal(t, orphanFileID, orphanFiles[0].ID)

	orphanVersions, err := store.VersionsWithFileNotIn(ctx, map[string]struct{}{orphanFileID: {}})
	require.NoError(t, err)
	require.Len(t, orphanVersions, 1)
	require.Equal(t, orphanVersionID, orphanVersions[0].ID)

	require.NoError(t, store.DeleteOrphanVersions(ctx, []string{orphanVersionID}))
	require.NoError(t, store.DeleteOrphanFiles(ctx, []string{orphanFileID}))

	orphanFiles, err = store.FilesWithGroupNotIn(ctx, keep)
	require.NoError(t, err)
	require.Empty(t, orphanFiles)
}

func TestAllStoredFilenames(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g := newGroup(now)
	require.NoError(t, store.CreateGroup(ctx, g))

	fileID := uuid.NewString()
	f := model.File{ID: fileID, GroupID: g.ID, OriginalFilename: "a.txt", StoredFilename: "s1", Size: 10, UploadedAt: now}
	v := model.FileVersion{ID: uuid.NewString(), FileID: fileID, StoredFilename: "s1", UploadedAt: now, Size: 10}
	require.NoError(t, store.CreateFileWithInitialVersion(ctx, f, v))

	names, err := store.AllStoredFilenames(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "s1")
}
