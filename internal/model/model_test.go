package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatestPicksGreatestUploadedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []FileVersion{
		{ID: "a", UploadedAt: base},
		{ID: "b", UploadedAt: base.Add(time.Hour)},
		{ID: "c", UploadedAt: base.Add(30 * time.Minute)},
	}

	require.Equal(t, "b", Latest(versions).ID)
}

func TestLatestBreaksTiesByID(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []FileVersion{
		{ID: "a", UploadedAt: at},
		{ID: "z", UploadedAt: at},
		{ID: "m", UploadedAt: at},
	}

	require.Equal(t, "z", Latest(versions).ID)
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []FileVersion{
		{ID: "a", UploadedAt: base},
		{ID: "b", UploadedAt: base.Add(2 * time.Hour)},
		{ID: "c", UploadedAt: base.Add(time.Hour)},
	}

	sorted := SortNewestFirst(versions)
	require.Equal(t, []string{"b", "c", "a"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})

	// Original slice must be untouched.
	require.Equal(t, "a", versions[0].ID)
}

func TestGroupHasPassword(t *testing.T) {
	require.False(t, Group{}.HasPassword())
	require.True(t, Group{PasswordHash: "hash"}.HasPassword())
}
