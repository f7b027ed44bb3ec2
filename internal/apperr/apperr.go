// Package apperr is the typed error boundary shared by every internal
// package: internal/metastore, internal/blobstore, internal/upload and
// internal/fileservice all return these types instead of bare fmt.Errorf,
// so internal/httpapi can map them to an HTTP status with a single
// errors.As switch (see SPEC_FULL.md §7, Design Note "Dynamic typing ->
// typed boundary").
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one row of the error taxonomy table in spec.md §7.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindReadOnlyGroup     Kind = "read_only_group"
	KindFileTooLarge      Kind = "file_too_large"
	KindChunkSizeMismatch Kind = "chunk_size_mismatch"
	KindMergeFailed       Kind = "merge_failed"
	KindBlobMissing       Kind = "blob_missing"
	KindConflict          Kind = "conflict"
	KindAuthFailed        Kind = "auth_failed"
	KindIOError           Kind = "io_error"
)

// statusByKind mirrors the "Propagation" column of spec.md §7.
var statusByKind = map[Kind]int{
	KindNotFound:          http.StatusNotFound,
	KindReadOnlyGroup:     http.StatusForbidden,
	KindFileTooLarge:      http.StatusRequestEntityTooLarge,
	KindChunkSizeMismatch: http.StatusBadRequest,
	KindMergeFailed:       http.StatusInternalServerError,
	KindBlobMissing:       http.StatusInternalServerError,
	KindConflict:          http.StatusBadRequest,
	KindAuthFailed:        http.StatusUnauthorized,
	KindIOError:           http.StatusInternalServerError,
}

// Error is the concrete type every apperr constructor returns. It wraps an
// optional underlying cause so callers can still errors.Is/As through it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code spec.md §7 assigns to e.Kind.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// wireCodeByKind maps a Kind to the literal `error` field value spec.md
// §6 puts on the wire. Most kinds pass their Kind straight through;
// ReadOnlyGroup is the one exception — spec.md §6/§8 scenario 3 require
// the literal "permission_denied", not "read_only_group".
var wireCodeByKind = map[Kind]string{
	KindReadOnlyGroup: "permission_denied",
}

// WireCode returns the literal string spec.md §6 puts in the JSON
// "error" field for e.Kind.
func (e *Error) WireCode() string {
	if code, ok := wireCodeByKind[e.Kind]; ok {
		return code
	}
	return string(e.Kind)
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound reports that an entity lookup (Group, File or FileVersion)
// found nothing.
func NotFound(format string, args ...any) *Error { return newErr(KindNotFound, format, args...) }

// ReadOnlyGroup reports a mutation attempted on a read-only group.
func ReadOnlyGroup(format string, args ...any) *Error {
	return newErr(KindReadOnlyGroup, format, args...)
}

// FileTooLarge reports a declared or observed size above the configured
// limit.
func FileTooLarge(format string, args ...any) *Error {
	return newErr(KindFileTooLarge, format, args...)
}

// ChunkSizeMismatch reports an observed chunk size different from the
// declared one; the caller discards the chunk.
func ChunkSizeMismatch(format string, args ...any) *Error {
	return newErr(KindChunkSizeMismatch, format, args...)
}

// MergeFailed reports that the merged file is absent after a merge
// attempt completed.
func MergeFailed(format string, args ...any) *Error {
	return newErr(KindMergeFailed, format, args...)
}

// BlobMissing reports a metadata row whose blob is absent on disk — an
// admin-visible inconsistency.
func BlobMissing(format string, args ...any) *Error {
	return newErr(KindBlobMissing, format, args...)
}

// Conflict reports a disallowed state transition, e.g. convert-to-readonly
// on a group that forbids it.
func Conflict(format string, args ...any) *Error { return newErr(KindConflict, format, args...) }

// AuthFailed reports a failed password check.
func AuthFailed(format string, args ...any) *Error { return newErr(KindAuthFailed, format, args...) }

// IOError wraps an underlying filesystem or database error.
func IOError(cause error, format string, args ...any) *Error {
	return wrapErr(KindIOError, cause, format, args...)
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
