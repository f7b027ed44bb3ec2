package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{NotFound("group %s", "abc"), http.StatusNotFound},
		{ReadOnlyGroup("group %s is read-only", "abc"), http.StatusForbidden},
		{FileTooLarge("file exceeds %d bytes", 10), http.StatusRequestEntityTooLarge},
		{ChunkSizeMismatch("chunk %d", 2), http.StatusBadRequest},
		{MergeFailed("merge for %s", "file"), http.StatusInternalServerError},
		{BlobMissing("path %s", "/x"), http.StatusInternalServerError},
		{Conflict("cannot convert"), http.StatusBadRequest},
		{AuthFailed("bad password"), http.StatusUnauthorized},
		{IOError(errors.New("disk full"), "write %s", "chunk"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		require.Equal(t, c.want, c.err.HTTPStatus())
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := IOError(cause, "write failed")

	wrapped := errors.Join(err)
	require.True(t, Is(wrapped, KindIOError))
	require.False(t, Is(wrapped, KindNotFound))
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := IOError(errors.New("disk full"), "write chunk 3")
	require.Contains(t, err.Error(), "disk full")
	require.Contains(t, err.Error(), "write chunk 3")
}

func TestWireCodeMapping(t *testing.T) {
	require.Equal(t, "permission_denied", ReadOnlyGroup("group %s is read-only", "abc").WireCode())
	require.Equal(t, "file_too_large", FileTooLarge("too big").WireCode())
	require.Equal(t, "chunk_size_mismatch", ChunkSizeMismatch("mismatch").WireCode())
	require.Equal(t, "merge_failed", MergeFailed("merge").WireCode())
	require.Equal(t, "not_found", NotFound("missing").WireCode())
}
