package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"groupbin/internal/blobstore"

	"github.com/stretchr/testify/require"
)

type fakeCommitter struct {
	calls []ChunkParams
}

func (f *fakeCommitter) CommitUpload(ctx context.Context, params ChunkParams, storedName string, size int64) (string, string, error) {
	f.calls = append(f.calls, params)
	return "file-1", "version-1", nil
}

func newTestAssembler(t *testing.T, committer Committer) (*Assembler, string) {
	t.Helper()
	root := t.TempDir()
	blobs := blobstore.New(root)
	a := New(Config{
		Root:          root,
		MaxUploadSize: 1 << 20,
		Blobs:         blobs,
		Committer:     committer,
	})
	return a, root
}

func chunkBody(b byte, n int) []byte {
	body := make([]byte, n)
	for i := range body {
		body[i] = b
	}
	return body
}

func TestSingleChunkUploadCommits(t *testing.T) {
	committer := &fakeCommitter{}
	a, _ := newTestAssembler(t, committer)

	data := chunkBody('a', 10)
	params := ChunkParams{
		Identifier: "upload-1", ChunkNumber: 1, TotalChunks: 1,
		TotalSize: 10, CurrentChunkSize: 10, Filename: "a.txt", GroupID: "group1",
	}

	outcome, result, err := a.Ingest(context.Background(), params, bytes.NewReader(data), false)
	require.NoError(t, err)
	require.Equal(t, Committed, outcome)
	require.Equal(t, "file-1", result.FileID)
	require.Len(t, committer.calls, 1)
}

func TestMultiChunkUploadOnlyCommitsOnLastChunk(t *testing.T) {
	committer := &fakeCommitter{}
	a, _ := newTestAssembler(t, committer)

	base := ChunkParams{Identifier: "upload-2", TotalChunks: 2, TotalSize: 20, Filename: "b.txt", GroupID: "group1"}

	p1 := base
	p1.ChunkNumber = 1
	p1.CurrentChunkSize = 10
	outcome, _, err := a.Ingest(context.Background(), p1, bytes.NewReader(chunkBody('a', 10)), false)
	require.NoError(t, err)
	require.Equal(t, ChunkAccepted, outcome)
	require.Empty(t, committer.calls)

	p2 := base
	p2.ChunkNumber = 2
	p2.CurrentChunkSize = 10
	outcome, result, err := a.Ingest(context.Background(), p2, bytes.NewReader(chunkBody('b', 10)), false)
	require.NoError(t, err)
	require.Equal(t, Committed, outcome)
	require.Equal(t, "file-1", result.FileID)
}

func TestIngestRejectsReadonlyGroup(t *testing.T) {
	committer := &fakeCommitter{}
	a, _ := newTestAssembler(t, committer)

	params := ChunkParams{Identifier: "upload-3", ChunkNumber: 1, TotalChunks: 1, TotalSize: 5, CurrentChunkSize: 5, Filename: "c.txt", GroupID: "group1"}
	_, _, err := a.Ingest(context.Background(), params, bytes.NewReader(chunkBody('a', 5)), true)
	require.Error(t, err)
}

func TestIngestRejectsOversizeUpload(t *testing.T) {
	committer := &fakeCommitter{}
	a, _ := newTestAssembler(t, committer)
	a.maxUploadSize = 4

	params := ChunkParams{Identifier: "upload-4", ChunkNumber: 1, TotalChunks: 1, TotalSize: 100, CurrentChunkSize: 5, Filename: "d.txt", GroupID: "group1"}
	_, _, err := a.Ingest(context.Background(), params, bytes.NewReader(chunkBody('a', 5)), false)
	require.Error(t, err)
}

func TestIngestRejectsChunkSizeMismatch(t *testing.T) {
	committer := &fakeCommitter{}
	a, _ := newTestAssembler(t, committer)

	params := ChunkParams{Identifier: "upload-5", ChunkNumber: 1, TotalChunks: 1, TotalSize: 5, CurrentChunkSize: 999, Filename: "e.txt", GroupID: "group1"}
	_, _, err := a.Ingest(context.Background(), params, bytes.NewReader(chunkBody('a', 5)), false)
	require.Error(t, err)

	_, statErr := os.Stat(a.chunkFinalPath(params.Identifier, params.ChunkNumber))
	require.Error(t, statErr)
}

func TestProbeFindsPersistedChunk(t *testing.T) {
	committer := &fakeCommitter{}
	a, _ := newTestAssembler(t, committer)

	base := ChunkParams{Identifier: "upload-6", TotalChunks: 2, TotalSize: 20, Filename: "f.txt", GroupID: "group1"}
	p1 := base
	p1.ChunkNumber = 1
	p1.CurrentChunkSize = 10
	_, _, err := a.Ingest(context.Background(), p1, bytes.NewReader(chunkBody('a', 10)), false)
	require.NoError(t, err)

	probeResult, err := a.Probe(p1)
	require.NoError(t, err)
	require.Equal(t, ProbeFound, probeResult)

	p2 := base
	p2.ChunkNumber = 2
	p2.CurrentChunkSize = 10
	probeResult, err = a.Probe(p2)
	require.NoError(t, err)
	require.Equal(t, ProbeMissing, probeResult)
}

func TestMergeKeyIsStableAndFilesystemSafe(t *testing.T) {
	k1 := mergeKey("identifier-a")
	k2 := mergeKey("identifier-a")
	k3 := mergeKey("identifier-b")
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Equal(t, filepath.Base(k1), k1)
}
