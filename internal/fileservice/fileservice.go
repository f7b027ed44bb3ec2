// Package fileservice implements spec.md §4.4: the single public surface
// internal/httpapi calls into. It owns the create/refresh/convert/
// check-password/list/fetch/delete/bundle operations over
// internal/metastore and internal/blobstore, and wraps internal/upload as
// its chunk ingestion path. Every operation reads time from the
// clock.Clock the Service is constructed with (see internal/clock) instead
// of reaching for time.Now().
package fileservice

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"time"

	"groupbin/internal/apperr"
	"groupbin/internal/blobstore"
	"groupbin/internal/cache"
	"groupbin/internal/clock"
	"groupbin/internal/metastore"
	"groupbin/internal/model"
	"groupbin/internal/upload"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service bundles the stores fileservice operations need.
type Service struct {
	meta      *metastore.Store
	blobs     *blobstore.Store
	groups    *cache.GroupCache // may be nil
	clock     clock.Clock
	assembler *upload.Assembler

	defaultGroupDurationHours float64
	maxGroupDurationHours     float64
	authDelay                 time.Duration
}

// Config bundles Service's construction parameters.
type Config struct {
	Meta                      *metastore.Store
	Blobs                     *blobstore.Store
	Groups                    *cache.GroupCache
	Clock                     clock.Clock
	DefaultGroupDurationHours float64
	MaxGroupDurationHours     float64
	AuthDelay                 time.Duration
}

// New builds a Service. Assembler is wired afterward via SetAssembler
// since the assembler's Committer is this Service itself, creating an
// unavoidable construction cycle.
func New(cfg Config) *Service {
	c := cfg.Clock
	if c == nil {
		c = clock.NewSystem()
	}
	return &Service{
		meta:                      cfg.Meta,
		blobs:                     cfg.Blobs,
		groups:                    cfg.Groups,
		clock:                     c,
		defaultGroupDurationHours: cfg.DefaultGroupDurationHours,
		maxGroupDurationHours:     cfg.MaxGroupDurationHours,
		authDelay:                 cfg.AuthDelay,
	}
}

// SetAssembler wires the upload assembler once constructed with this
// Service as its Committer.
func (s *Service) SetAssembler(a *upload.Assembler) { s.assembler = a }

// CreateGroup inserts a Group per spec.md §4.4, clamping duration to the
// configured maximum (SPEC_FULL.md §9 "Group TTL bounds").
func (s *Service) CreateGroup(ctx context.Context, name string, durationHours float64, password, creator string, allowConvertToReadonly bool) (string, error) {
	if durationHours <= 0 {
		durationHours = s.defaultGroupDurationHours
	}
	if s.maxGroupDurationHours > 0 && durationHours > s.maxGroupDurationHours {
		durationHours = s.maxGroupDurationHours
	}

	var passwordHash string
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", apperr.IOError(err, "hash group password")
		}
		passwordHash = string(hashed)
	}

	now := s.clock.Now()
	g := model.Group{
		ID:                     uuid.NewString(),
		Name:                   name,
		CreatedAt:              now,
		ExpiresAt:              now.Add(time.Duration(durationHours * float64(time.Hour))),
		CreatedDurationHours:   durationHours,
		PasswordHash:           passwordHash,
		AllowConvertToReadonly: allowConvertToReadonly,
		Creator:                creator,
	}

	if err := s.meta.CreateGroup(ctx, g); err != nil {
		return "", err
	}
	if err := s.blobs.EnsureGroupDir(g.ID); err != nil {
		return "", err
	}
	if s.groups != nil {
		s.groups.Put(g)
	}
	return g.ID, nil
}

// GetGroup fetches a group, consulting the cache first.
func (s *Service) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	if s.groups != nil {
		if g, ok := s.groups.Get(groupID); ok {
			return g, nil
		}
	}
	g, err := s.meta.GetGroup(ctx, groupID)
	if err != nil {
		return model.Group{}, err
	}
	if s.groups != nil {
		s.groups.Put(g)
	}
	return g, nil
}

// RefreshExpiration sets expires_at = now() + created_duration_hours, per
// spec.md §4.4: permitted even on expired groups ("revive").
func (s *Service) RefreshExpiration(ctx context.Context, groupID string) error {
	g, err := s.meta.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	newExpiry := s.clock.Now().Add(time.Duration(g.CreatedDurationHours * float64(time.Hour)))
	if err := s.meta.UpdateGroupExpiry(ctx, groupID, newExpiry); err != nil {
		return err
	}
	if s.groups != nil {
		s.groups.Invalidate(groupID)
	}
	return nil
}

// ConvertToReadonly flips is_readonly to true, irreversibly.
func (s *Service) ConvertToReadonly(ctx context.Context, groupID string) error {
	g, err := s.meta.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.AllowConvertToReadonly || g.IsReadonly {
		return apperr.Conflict("group %s cannot convert to read-only", groupID)
	}
	if err := s.meta.SetGroupReadonly(ctx, groupID); err != nil {
		return err
	}
	if s.groups != nil {
		s.groups.Invalidate(groupID)
	}
	return nil
}

// IsExpired reports whether now() > group.ExpiresAt, in UTC.
func (s *Service) IsExpired(g model.Group) bool {
	return s.clock.Now().After(g.ExpiresAt.UTC())
}

// CheckPassword constant-time-compares candidate against the stored
// bcrypt hash. A group with no password always passes. On mismatch the
// configured AuthDelay elapses before returning apperr.AuthFailed — a
// brute-force throttle (SPEC_FULL.md §9 "Auth throttle delay").
func (s *Service) CheckPassword(ctx context.Context, g model.Group, candidate string) error {
	if !g.HasPassword() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(g.PasswordHash), []byte(candidate)); err != nil {
		if s.authDelay > 0 {
			select {
			case <-time.After(s.authDelay):
			case <-ctx.Done():
			}
		}
		return apperr.AuthFailed("incorrect password for group %s", g.ID)
	}
	return nil
}

// ListVersions returns every version of fileID, newest first.
func (s *Service) ListVersions(ctx context.Context, fileID string) ([]model.FileVersion, error) {
	return s.meta.ListVersions(ctx, fileID)
}

// LatestVersion aliases the first element of ListVersions.
func (s *Service) LatestVersion(ctx context.Context, fileID string) (model.FileVersion, error) {
	versions, err := s.meta.ListVersions(ctx, fileID)
	if err != nil {
		return model.FileVersion{}, err
	}
	if len(versions) == 0 {
		return model.FileVersion{}, apperr.NotFound("no versions for file %s", fileID)
	}
	return versions[0], nil
}

// FetchVersion cross-checks that versionID belongs to fileID and fileID
// belongs to groupID, then opens the blob for streaming.
func (s *Service) FetchVersion(ctx context.Context, groupID, fileID, versionID string) (io.ReadCloser, string, error) {
	f, err := s.meta.GetFile(ctx, groupID, fileID)
	if err != nil {
		return nil, "", err
	}
	v, err := s.meta.GetVersion(ctx, fileID, versionID)
	if err != nil {
		return nil, "", err
	}
	rc, err := s.blobs.Open(groupID, v.StoredFilename)
	if err != nil {
		return nil, "", err
	}
	return rc, f.OriginalFilename, nil
}

// DeleteFile refuses on a read-only group, then removes each version's
// blob (idempotent) and the File row (cascading its versions) in one
// transaction.
func (s *Service) DeleteFile(ctx context.Context, groupID, fileID string) error {
	g, err := s.meta.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.IsReadonly {
		return apperr.ReadOnlyGroup("group %s is read-only", groupID)
	}

	if _, err := s.meta.GetFile(ctx, groupID, fileID); err != nil {
		return err
	}
	versions, err := s.meta.ListVersions(ctx, fileID)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := s.blobs.Remove(groupID, v.StoredFilename); err != nil {
			return err
		}
	}
	return s.meta.DeleteFile(ctx, fileID)
}

// BundleGroup writes a ZIP-DEFLATED archive holding every version of
// every file in the group, one entry per (file, version) pair
// (spec.md §4.4 "bundle_group"), to w.
func (s *Service) BundleGroup(ctx context.Context, groupID string, w io.Writer) error {
	if _, err := s.meta.GetGroup(ctx, groupID); err != nil {
		return err
	}
	files, err := s.meta.ListFilesInGroup(ctx, groupID)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, f := range files {
		versions, err := s.meta.ListVersions(ctx, f.ID)
		if err != nil {
			zw.Close()
			return err
		}
		for _, v := range versions {
			if err := s.addVersionToZip(zw, groupID, f, v); err != nil {
				zw.Close()
				return err
			}
		}
	}
	return zw.Close()
}

func (s *Service) addVersionToZip(zw *zip.Writer, groupID string, f model.File, v model.FileVersion) error {
	rc, err := s.blobs.Open(groupID, v.StoredFilename)
	if err != nil {
		return err
	}
	defer rc.Close()

	entryName := fmt.Sprintf("v-%s_%s", v.UploadedAt.UTC().Format("01-02-15-04-05"), f.OriginalFilename)
	header := &zip.FileHeader{Name: entryName, Method: zip.Deflate}
	header.Modified = v.UploadedAt.UTC()

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return apperr.IOError(err, "create zip entry %s", entryName)
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return apperr.IOError(err, "write zip entry %s", entryName)
	}
	return nil
}

// --- upload.Committer implementation ---

// CommitUpload registers a committed blob as a new File (first version)
// or an appended FileVersion, per spec.md §4.3 "Commit to the store".
func (s *Service) CommitUpload(ctx context.Context, params upload.ChunkParams, storedName string, size int64) (string, string, error) {
	now := s.clock.Now()

	if params.FileID != "" {
		v := model.FileVersion{
			ID:             uuid.NewString(),
			FileID:         params.FileID,
			StoredFilename: storedName,
			UploadedAt:     now,
			Uploader:       params.Uploader,
			Comment:        params.Comment,
			Size:           size,
		}
		if err := s.meta.AppendVersion(ctx, v); err != nil {
			return "", "", err
		}
		return params.FileID, v.ID, nil
	}

	fileID := uuid.NewString()
	versionID := uuid.NewString()
	f := model.File{
		ID:               fileID,
		GroupID:          params.GroupID,
		OriginalFilename: params.Filename,
		StoredFilename:   storedName,
		Description:      params.Description,
		Size:             size,
		UploadedAt:       now,
	}
	v := model.FileVersion{
		ID:             versionID,
		FileID:         fileID,
		StoredFilename: storedName,
		UploadedAt:     now,
		Uploader:       params.Uploader,
		Comment:        params.Comment,
		Size:           size,
	}
	if err := s.meta.CreateFileWithInitialVersion(ctx, f, v); err != nil {
		return "", "", err
	}
	return fileID, versionID, nil
}

// IngestChunk and ProbeChunk are thin wrappers over the upload assembler,
// which enforces the size limit; IngestChunk also passes the group's
// is_readonly flag so a read-only group is rejected.

// ProbeChunk reports whether a chunk is already stored.
func (s *Service) ProbeChunk(params upload.ChunkParams) (upload.ProbeResult, error) {
	return s.assembler.Probe(params)
}

// IngestChunk persists a chunk, rejecting on a read-only group.
func (s *Service) IngestChunk(ctx context.Context, params upload.ChunkParams, body io.Reader) (upload.IngestOutcome, upload.CommitResult, error) {
	g, err := s.meta.GetGroup(ctx, params.GroupID)
	if err != nil {
		return upload.ChunkAccepted, upload.CommitResult{}, err
	}
	return s.assembler.Ingest(ctx, params, body, g.IsReadonly)
}
