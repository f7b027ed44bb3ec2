// Package logrotate is a small size/backup-count rotating io.Writer that
// slog's handler writes through, grounded on the roll-over behavior of
// Python's RotatingFileHandler that original_source/app/__init__.py
// configures (LOG_FILE_MAX_SIZE_MB / LOG_FILE_BACKUP_COUNT, see
// SPEC_FULL.md §9).
package logrotate

import (
	"fmt"
	"os"
	"sync"
)

// Writer rotates path once it exceeds maxBytes, keeping up to
// backupCount numbered copies (path.1, path.2, ...; the oldest is
// dropped).
type Writer struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	backupCount int
	file        *os.File
	size        int64
}

// New opens (or creates) path for appending and prepares rotation.
func New(path string, maxSizeMB, backupCount int) (*Writer, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if backupCount < 0 {
		backupCount = 0
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		path:        path,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		backupCount: backupCount,
		file:        f,
		size:        info.Size(),
	}, nil
}

// Write implements io.Writer, rotating before the write if it would push
// the file over maxBytes.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	if w.backupCount > 0 {
		oldest := fmt.Sprintf("%s.%d", w.path, w.backupCount)
		os.Remove(oldest)
		for n := w.backupCount - 1; n >= 1; n-- {
			os.Rename(fmt.Sprintf("%s.%d", w.path, n), fmt.Sprintf("%s.%d", w.path, n+1))
		}
		os.Rename(w.path, fmt.Sprintf("%s.1", w.path))
	} else {
		os.Remove(w.path)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
