// Package model holds the three persistent entities of spec.md §3: Group,
// File and FileVersion. It is a pure data package — no database, no
// filesystem access — so internal/metastore, internal/blobstore and
// internal/fileservice can share one vocabulary without import cycles.
package model

import "time"

// Group is an ephemeral, optionally password-protected container of files.
// Invariants (enforced by internal/fileservice, not by this struct):
// CreatedAt <= ExpiresAt at all observed times; IsReadonly is monotonic
// (never flips back to false); ExpiresAt only moves forward, via Refresh.
type Group struct {
	ID                     string
	Name                   string
	CreatedAt              time.Time
	ExpiresAt              time.Time
	CreatedDurationHours   float64
	PasswordHash           string // empty means no per-group password
	IsReadonly             bool
	AllowConvertToReadonly bool
	Creator                string
}

// HasPassword reports whether g requires a password check before access.
func (g Group) HasPassword() bool { return g.PasswordHash != "" }

// File is one uploaded object inside a Group. Its fields mirror the
// latest FileVersion at upload time; version history lives separately.
type File struct {
	ID                string
	GroupID           string
	OriginalFilename  string // exact user-supplied name, preserved byte-for-byte
	StoredFilename    string // opaque on-disk name, distinct from OriginalFilename
	Description       string
	Size              int64
	UploadedAt        time.Time
	ContentType       string
}

// FileVersion is one revision of a File's contents. A File always has at
// least one FileVersion after a successful upload; the first is created
// in the same transaction as the File row.
type FileVersion struct {
	ID             string
	FileID         string
	StoredFilename string
	UploadedAt     time.Time
	Uploader       string
	Comment        string
	Size           int64
}

// BlobPath returns the on-disk path of this version's blob, relative to
// the configured upload root: <upload_root>/<group_id>/<stored_filename>.
func (fv FileVersion) BlobPath(groupID string) string {
	return groupID + "/" + fv.StoredFilename
}

// Latest returns the version spec.md §3 calls "latest": the greatest
// UploadedAt, ties broken by ID order. versions must be non-empty.
func Latest(versions []FileVersion) FileVersion {
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.UploadedAt.After(latest.UploadedAt) ||
			(v.UploadedAt.Equal(latest.UploadedAt) && v.ID > latest.ID) {
			latest = v
		}
	}
	return latest
}

// SortNewestFirst returns versions ordered newest-first, per spec.md §3
// ("Version history is presented newest-first").
func SortNewestFirst(versions []FileVersion) []FileVersion {
	sorted := make([]FileVersion, len(versions))
	copy(sorted, versions)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j], sorted[j-1]
			if a.UploadedAt.After(b.UploadedAt) ||
				(a.UploadedAt.Equal(b.UploadedAt) && a.ID > b.ID) {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			} else {
				break
			}
		}
	}
	return sorted
}
