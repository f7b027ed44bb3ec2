package logrotate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAccumulatesWithoutRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := New(path, 10, 2)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}

func TestRotationMovesOldContentToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := New(path, 0, 1)
	require.NoError(t, err)
	w.maxBytes = 5
	defer w.Close()

	_, err = w.Write(bytes.Repeat([]byte("a"), 4))
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("b"), 4))
	require.NoError(t, err)

	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, "aaaa", string(backup))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bbbb", string(current))
}

func TestZeroBackupCountDropsOldContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := New(path, 0, 0)
	require.NoError(t, err)
	w.maxBytes = 5
	defer w.Close()

	_, err = w.Write(bytes.Repeat([]byte("a"), 4))
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("b"), 4))
	require.NoError(t, err)

	_, statErr := os.Stat(path + ".1")
	require.True(t, os.IsNotExist(statErr))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bbbb", string(current))
}
