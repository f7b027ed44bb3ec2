// Package upload is the chunked-upload assembler of spec.md §4.3: it
// accepts a logical file delivered as a sequence of fixed-size chunks
// with at-least-once client semantics and produces exactly one committed
// blob registered through a Committer (internal/fileservice).
//
// State lives on disk under <upload_root>/tmp/<identifier>/, so partial
// uploads survive a process restart; the only cross-process coordination
// is the exclusive-create merge lock file (spec.md §4.3 "Commit
// election"), grounded on the same at-least-once, on-disk-state pattern
// as the chunked upload implementation in the retrieved file.cheap
// reference.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"groupbin/internal/apperr"
	"groupbin/internal/blobstore"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// ChunkParams are the client-supplied fields attached to every chunk
// request (spec.md §4.3 "Inputs per chunk request").
type ChunkParams struct {
	Identifier        string
	ChunkNumber       int
	TotalChunks       int
	TotalSize         int64
	CurrentChunkSize  int64
	Filename          string
	GroupID           string
	FileID            string // optional: set for a version upload
	Uploader          string
	Description       string
	Comment           string
}

// ProbeResult is the outcome of Probe.
type ProbeResult int

const (
	ProbeMissing ProbeResult = iota
	ProbeFound
)

// IngestOutcome is the outcome of Ingest.
type IngestOutcome int

const (
	// ChunkAccepted means the chunk was stored but this call did not
	// commit (either more chunks remain, or another worker is merging).
	ChunkAccepted IngestOutcome = iota
	// Committed means this call merged and committed the file; FileID and
	// VersionID are populated on the returned CommitResult.
	Committed
)

// CommitResult is populated when Ingest returns Committed.
type CommitResult struct {
	FileID    string
	VersionID string
}

// Committer is the boundary upload calls into once a merge completes and
// the blob has already been moved into the group's blob directory under
// storedName; in production this is internal/fileservice, kept as an
// interface here so the assembler can be tested without a real metadata
// store.
type Committer interface {
	CommitUpload(ctx context.Context, params ChunkParams, storedName string, size int64) (fileID, versionID string, err error)
}

// Assembler implements spec.md §4.3 over a root directory.
type Assembler struct {
	root          string // <upload_root>
	maxUploadSize int64
	moveMaxWait   time.Duration
	blobs         *blobstore.Store
	committer     Committer
	progress      *ProgressCache // optional accelerator, may be nil
	logger        *slog.Logger
}

// Config bundles Assembler's construction parameters.
type Config struct {
	Root          string
	MaxUploadSize int64
	MoveMaxWait   time.Duration
	Blobs         *blobstore.Store
	Committer     Committer
	Progress      *ProgressCache
	Logger        *slog.Logger
}

// New builds an Assembler. MoveMaxWait defaults to 3s, matching spec.md's
// "~3 s" default.
func New(cfg Config) *Assembler {
	wait := cfg.MoveMaxWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		root:          cfg.Root,
		maxUploadSize: cfg.MaxUploadSize,
		moveMaxWait:   wait,
		blobs:         cfg.Blobs,
		committer:     cfg.Committer,
		progress:      cfg.Progress,
		logger:        logger,
	}
}

func (a *Assembler) tmpDir(identifier string) string {
	return filepath.Join(a.root, "tmp", identifier)
}

func (a *Assembler) chunkFinalPath(identifier string, n int) string {
	return filepath.Join(a.tmpDir(identifier), fmt.Sprintf("%d", n))
}

func (a *Assembler) chunkTempPath(identifier string, n int) string {
	return filepath.Join(a.tmpDir(identifier), fmt.Sprintf("%d.un-complete", n))
}

// Probe reports whether a chunk is already persisted, per spec.md §4.3.
func (a *Assembler) Probe(params ChunkParams) (ProbeResult, error) {
	if params.TotalSize > a.maxUploadSize {
		return ProbeMissing, apperr.FileTooLarge("total size %d exceeds max %d", params.TotalSize, a.maxUploadSize)
	}
	if a.progress != nil {
		if found, ok := a.progress.Has(params.Identifier, params.ChunkNumber); ok && found {
			return ProbeFound, nil
		}
	}
	if _, err := os.Stat(a.chunkFinalPath(params.Identifier, params.ChunkNumber)); err == nil {
		return ProbeFound, nil
	}
	return ProbeMissing, nil
}

// Ingest persists one chunk and, when it is the last one needed, attempts
// commit election and merge. Pre-flight checks run in the exact order
// spec.md §4.3 lists.
func (a *Assembler) Ingest(ctx context.Context, params ChunkParams, body io.Reader, groupReadonly bool) (IngestOutcome, CommitResult, error) {
	if groupReadonly {
		return ChunkAccepted, CommitResult{}, apperr.ReadOnlyGroup("group %s is read-only", params.GroupID)
	}
	if params.TotalSize > a.maxUploadSize {
		return ChunkAccepted, CommitResult{}, apperr.FileTooLarge("total size %d exceeds max %d", params.TotalSize, a.maxUploadSize)
	}

	if err := a.writeChunk(params, body); err != nil {
		return ChunkAccepted, CommitResult{}, err
	}
	if a.progress != nil {
		a.progress.MarkPresent(params.Identifier, params.ChunkNumber)
	}

	complete, err := a.allChunksPresent(params.Identifier, params.TotalChunks)
	if err != nil {
		a.logger.Warn("upload: failed checking chunk completeness", "identifier", params.Identifier, "error", err)
		return ChunkAccepted, CommitResult{}, nil
	}
	if !complete {
		return ChunkAccepted, CommitResult{}, nil
	}

	elected, err := a.electMerger(params.Identifier)
	if err != nil {
		a.logger.Warn("upload: merge election failed", "identifier", params.Identifier, "error", err)
		return ChunkAccepted, CommitResult{}, nil
	}
	if !elected {
		return ChunkAccepted, CommitResult{}, nil
	}

	result, err := a.mergeAndCommit(ctx, params)
	if err != nil {
		return ChunkAccepted, CommitResult{}, err
	}
	return Committed, result, nil
}

// writeChunk implements the chunk-write protocol of spec.md §4.3.
func (a *Assembler) writeChunk(params ChunkParams, body io.Reader) error {
	dir := a.tmpDir(params.Identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IOError(err, "create chunk directory %s", dir)
	}

	tmpPath := a.chunkTempPath(params.Identifier, params.ChunkNumber)
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperr.IOError(err, "create temp chunk %s", tmpPath)
	}

	written, copyErr := io.Copy(f, body)
	syncErr := f.Sync()
	closeErr := f.Close()

	if copyErr != nil || syncErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return apperr.IOError(copyErr, "write chunk %d of %s", params.ChunkNumber, params.Identifier)
		}
		if syncErr != nil {
			return apperr.IOError(syncErr, "fsync chunk %d of %s", params.ChunkNumber, params.Identifier)
		}
		return apperr.IOError(closeErr, "close chunk %d of %s", params.ChunkNumber, params.Identifier)
	}

	if written != params.CurrentChunkSize {
		os.Remove(tmpPath)
		return apperr.ChunkSizeMismatch("chunk %d of %s: observed %d declared %d",
			params.ChunkNumber, params.Identifier, written, params.CurrentChunkSize)
	}

	finalPath := a.chunkFinalPath(params.Identifier, params.ChunkNumber)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return apperr.IOError(err, "rename chunk %d of %s into place", params.ChunkNumber, params.Identifier)
	}

	a.pollChunkVisible(finalPath, tmpPath, params)
	return nil
}

// pollChunkVisible is the ~1s sanity poll spec.md §4.3 describes; a
// violation is logged, never fatal.
func (a *Assembler) pollChunkVisible(finalPath, tmpPath string, params ChunkParams) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, finalErr := os.Stat(finalPath)
		_, tmpErr := os.Stat(tmpPath)
		if finalErr == nil && os.IsNotExist(tmpErr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	a.logger.Warn("upload: chunk visibility invariant violated after poll",
		"identifier", params.Identifier, "chunk", params.ChunkNumber)
}

func (a *Assembler) allChunksPresent(identifier string, totalChunks int) (bool, error) {
	for n := 1; n <= totalChunks; n++ {
		if _, err := os.Stat(a.chunkFinalPath(identifier, n)); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// mergeKey derives the merge-lock key from the identifier via blake3,
// grounded on the teacher's go.mod dependency lukechampine.com/blake3
// (chosen there for content hashing, repurposed here for a short,
// filesystem-safe lock-file name).
func mergeKey(identifier string) string {
	sum := blake3.Sum256([]byte(identifier))
	return fmt.Sprintf("%x", sum[:16])
}

func (a *Assembler) lockPath(identifier string) string {
	return filepath.Join(a.root, "tmp", mergeKey(identifier)+".lock")
}

// electMerger attempts the exclusive-create lock of spec.md §4.3 "Commit
// election". It returns true only if this call becomes the merger and the
// chunk directory still exists once the lock is held.
func (a *Assembler) electMerger(identifier string) (bool, error) {
	lockPath := a.lockPath(identifier)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	f.Close()

	if _, err := os.Stat(a.tmpDir(identifier)); os.IsNotExist(err) {
		os.Remove(lockPath)
		return false, nil
	}
	return true, nil
}

// mergeAndCommit performs the merge and commit-to-store steps of spec.md
// §4.3, releasing the lock and removing the chunk directory regardless of
// outcome.
func (a *Assembler) mergeAndCommit(ctx context.Context, params ChunkParams) (CommitResult, error) {
	lockPath := a.lockPath(params.Identifier)
	defer func() {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("upload: failed to release merge lock", "identifier", params.Identifier, "error", err)
		}
	}()
	defer func() {
		if err := os.RemoveAll(a.tmpDir(params.Identifier)); err != nil {
			a.logger.Warn("upload: failed to remove chunk directory", "identifier", params.Identifier, "error", err)
		}
	}()
	defer a.forgetProgress(params)

	mergedPath := filepath.Join(a.tmpDir(params.Identifier), params.Filename)
	if err := a.merge(params, mergedPath); err != nil {
		return CommitResult{}, err
	}

	info, err := os.Stat(mergedPath)
	if err != nil {
		return CommitResult{}, apperr.MergeFailed("merged file absent for %s", params.Identifier)
	}

	fileID, versionID, err := a.commitToStore(ctx, params, mergedPath, info.Size())
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{FileID: fileID, VersionID: versionID}, nil
}

func (a *Assembler) forgetProgress(params ChunkParams) {
	if a.progress != nil {
		a.progress.ForgetUpload(params.Identifier, params.TotalChunks)
	}
}

func (a *Assembler) merge(params ChunkParams, destPath string) error {
	dest, err := os.Create(destPath)
	if err != nil {
		return apperr.IOError(err, "create merged file %s", destPath)
	}
	defer dest.Close()

	for n := 1; n <= params.TotalChunks; n++ {
		chunkPath := a.chunkFinalPath(params.Identifier, n)
		if err := appendChunk(dest, chunkPath); err != nil {
			return apperr.IOError(err, "append chunk %d of %s", n, params.Identifier)
		}
	}
	return dest.Sync()
}

func appendChunk(dest *os.File, chunkPath string) error {
	src, err := os.Open(chunkPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dest, src)
	return err
}

// commitToStore generates stored_name, moves the merged file into the
// group's blob directory, polling for move visibility up to moveMaxWait,
// then registers the result through the Committer. Grounded on spec.md
// §4.3 "Commit to the store".
func (a *Assembler) commitToStore(ctx context.Context, params ChunkParams, mergedPath string, size int64) (string, string, error) {
	storedName := uuid.NewString() + blobstore.SafeExtension(params.Filename)

	src, err := os.Open(mergedPath)
	if err != nil {
		return "", "", apperr.IOError(err, "reopen merged file %s", mergedPath)
	}
	_, saveErr := a.blobs.Save(ctx, params.GroupID, storedName, src)
	src.Close()
	if saveErr != nil {
		return "", "", saveErr
	}

	if err := a.pollMoveVisible(params.GroupID, storedName); err != nil {
		return "", "", err
	}

	fileID, versionID, err := a.committer.CommitUpload(ctx, params, storedName, size)
	if err != nil {
		return "", "", err
	}
	return fileID, versionID, nil
}

// pollMoveVisible waits up to moveMaxWait for the committed blob to
// become visible, per spec.md §4.3's "Poll for the move to complete".
func (a *Assembler) pollMoveVisible(groupID, storedName string) error {
	deadline := time.Now().Add(a.moveMaxWait)
	for {
		if rc, err := a.blobs.Open(groupID, storedName); err == nil {
			rc.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return apperr.IOError(os.ErrNotExist, "blob %s/%s not visible after move", groupID, storedName)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
