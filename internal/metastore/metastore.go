// Package metastore is the metadata store of spec.md §4.2: atomic
// create/read/update/delete over Group, File and FileVersion, plus the
// specific queries the reclamation loop needs. It owns the SQLite
// connection (PRAGMA tuning included), schema migration and cascades;
// internal/model supplies the row types.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"groupbin/internal/apperr"
	"groupbin/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Options controls the SQLite connection metastore.Open opens. It has no
// groupbin-specific fields — tuning a *sql.DB is the same job regardless
// of what schema lives on top of it.
type Options struct {
	JournalMode     string
	Synchronous     string
	BusyTimeout     time.Duration
	ForeignKeys     *bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store wraps a *sql.DB holding the groupbin schema: groups, files and
// file_versions.
type Store struct {
	db *sql.DB
}

// Open connects to path, applies PRAGMA tuning and runs the schema
// migration, grounded on the MigrationManager pattern of the teacher's
// lexicon package: a single ordered list of idempotent DDL statements.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("metastore: empty path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, opts Options) error {
	journal := opts.JournalMode
	if journal == "" {
		journal = "WAL"
	}
	syncMode := opts.Synchronous
	if syncMode == "" {
		syncMode = "NORMAL"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", journal),
		fmt.Sprintf("PRAGMA synchronous=%s", syncMode),
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
	}
	if opts.ForeignKeys != nil && !*opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=OFF")
	} else {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("metastore: apply %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_duration_hours REAL NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		is_readonly INTEGER NOT NULL DEFAULT 0,
		allow_convert_to_readonly INTEGER NOT NULL DEFAULT 1,
		creator TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		stored_filename TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS file_versions (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		stored_filename TEXT NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		uploader TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL,
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_group_id ON files(group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_file_versions_file_id ON file_versions(file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_expires_at ON groups(expires_at)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.IOError(err, "apply migration")
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

// storedTimeLayout always writes nine fractional digits, so the text
// comparisons the queries make (expires_at < ?) follow time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(storedTimeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Group ---

// CreateGroup inserts g.
func (s *Store) CreateGroup(ctx context.Context, g model.Group) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO groups
		(id, name, created_at, expires_at, created_duration_hours, password_hash, is_readonly, allow_convert_to_readonly, creator)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, formatTime(g.CreatedAt), formatTime(g.ExpiresAt), g.CreatedDurationHours,
		g.PasswordHash, boolToInt(g.IsReadonly), boolToInt(g.AllowConvertToReadonly), g.Creator)
	if err != nil {
		return apperr.IOError(err, "insert group %s", g.ID)
	}
	return nil
}

func scanGroup(row interface{ Scan(...any) error }) (model.Group, error) {
	var g model.Group
	var createdAt, expiresAt string
	var isReadonly, allowConvert int
	if err := row.Scan(&g.ID, &g.Name, &createdAt, &expiresAt, &g.CreatedDurationHours,
		&g.PasswordHash, &isReadonly, &allowConvert, &g.Creator); err != nil {
		return model.Group{}, err
	}
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Group{}, err
	}
	if g.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return model.Group{}, err
	}
	g.IsReadonly = isReadonly != 0
	g.AllowConvertToReadonly = allowConvert != 0
	return g, nil
}

// GetGroup fetches a group by id, failing with apperr.NotFound if absent.
func (s *Store) GetGroup(ctx context.Context, id string) (model.Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, name, created_at, expires_at, created_duration_hours, password_hash,
		is_readonly, allow_convert_to_readonly, creator
		FROM groups WHERE id = ?`, id)

	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, apperr.NotFound("group %s", id)
	}
	if err != nil {
		return model.Group{}, apperr.IOError(err, "get group %s", id)
	}
	return g, nil
}

// UpdateGroupExpiry sets expires_at, used by refresh_expiration.
func (s *Store) UpdateGroupExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET expires_at = ? WHERE id = ?`, formatTime(expiresAt), id)
	if err != nil {
		return apperr.IOError(err, "update expiry of group %s", id)
	}
	return requireRowAffected(res, id, "group")
}

// SetGroupReadonly flips is_readonly to true, used by convert_to_readonly.
func (s *Store) SetGroupReadonly(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET is_readonly = 1 WHERE id = ?`, id)
	if err != nil {
		return apperr.IOError(err, "set group %s readonly", id)
	}
	return requireRowAffected(res, id, "group")
}

func requireRowAffected(res sql.Result, id, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.IOError(err, "check rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return apperr.NotFound("%s %s", kind, id)
	}
	return nil
}

// DeleteGroup hard-deletes a group and, via explicit child-then-parent
// deletes in one transaction, all its files and versions (cascade is also
// declared at the schema level; this is belt-and-suspenders for drivers
// that don't enforce FKs).
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IOError(err, "begin delete group %s", id)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_versions WHERE file_id IN (SELECT id FROM files WHERE group_id = ?)`, id); err != nil {
		return apperr.IOError(err, "delete versions of group %s", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE group_id = ?`, id); err != nil {
		return apperr.IOError(err, "delete files of group %s", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id); err != nil {
		return apperr.IOError(err, "delete group %s", id)
	}
	if err := tx.Commit(); err != nil {
		return apperr.IOError(err, "commit delete group %s", id)
	}
	return nil
}

// GroupsExpiringBefore returns groups whose expires_at is strictly before
// cutoff — used by the reclamation loop's two-stage expiry.
func (s *Store) GroupsExpiringBefore(ctx context.Context, cutoff time.Time) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, name, created_at, expires_at, created_duration_hours, password_hash,
		is_readonly, allow_convert_to_readonly, creator
		FROM groups WHERE expires_at < ?`, formatTime(cutoff))
	if err != nil {
		return nil, apperr.IOError(err, "query groups expiring before %s", cutoff)
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, apperr.IOError(err, "scan group row")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AllGroupIDs returns every current group id — used for orphan sweeps.
func (s *Store) AllGroupIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM groups`)
	if err != nil {
		return nil, apperr.IOError(err, "list group ids")
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.IOError(err, "scan group id")
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// --- File ---

// CreateFileWithInitialVersion inserts f and its first version in one
// transaction, per spec.md §3: "the first version is created in the same
// transaction as the File."
func (s *Store) CreateFileWithInitialVersion(ctx context.Context, f model.File, v model.FileVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IOError(err, "begin create file %s", f.ID)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO files
		(id, group_id, original_filename, stored_filename, description, size, uploaded_at, content_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.GroupID, f.OriginalFilename, f.StoredFilename, f.Description, f.Size,
		formatTime(f.UploadedAt), f.ContentType); err != nil {
		return apperr.IOError(err, "insert file %s", f.ID)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO file_versions
		(id, file_id, stored_filename, uploaded_at, uploader, comment, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FileID, v.StoredFilename, formatTime(v.UploadedAt), v.Uploader, v.Comment, v.Size); err != nil {
		return apperr.IOError(err, "insert initial version %s", v.ID)
	}

	if err := tx.Commit(); err != nil {
		return apperr.IOError(err, "commit create file %s", f.ID)
	}
	return nil
}

func scanFile(row interface{ Scan(...any) error }) (model.File, error) {
	var f model.File
	var uploadedAt string
	if err := row.Scan(&f.ID, &f.GroupID, &f.OriginalFilename, &f.StoredFilename,
		&f.Description, &f.Size, &uploadedAt, &f.ContentType); err != nil {
		return model.File{}, err
	}
	var err error
	if f.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return model.File{}, err
	}
	return f, nil
}

// GetFile fetches a file by id, cross-checked against its owning group.
func (s *Store) GetFile(ctx context.Context, groupID, fileID string) (model.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, group_id, original_filename, stored_filename, description, size, uploaded_at, content_type
		FROM files WHERE id = ? AND group_id = ?`, fileID, groupID)

	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.File{}, apperr.NotFound("file %s in group %s", fileID, groupID)
	}
	if err != nil {
		return model.File{}, apperr.IOError(err, "get file %s", fileID)
	}
	return f, nil
}

// ListFilesInGroup returns every file belonging to groupID, used by
// bundle_group.
func (s *Store) ListFilesInGroup(ctx context.Context, groupID string) ([]model.File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, group_id, original_filename, stored_filename, description, size, uploaded_at, content_type
		FROM files WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, apperr.IOError(err, "list files of group %s", groupID)
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, apperr.IOError(err, "scan file row")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFile removes a file and (via cascade) its versions in one
// transaction.
func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IOError(err, "begin delete file %s", fileID)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_versions WHERE file_id = ?`, fileID); err != nil {
		return apperr.IOError(err, "delete versions of file %s", fileID)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return apperr.IOError(err, "delete file %s", fileID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.IOError(err, "check rows affected for file %s", fileID)
	}
	if n == 0 {
		return apperr.NotFound("file %s", fileID)
	}
	if err := tx.Commit(); err != nil {
		return apperr.IOError(err, "commit delete file %s", fileID)
	}
	return nil
}

// FilesWithGroupNotIn returns files whose group_id is not among keep —
// used by the orphan-row sweep (spec.md §4.5 step 2).
func (s *Store) FilesWithGroupNotIn(ctx context.Context, keep map[string]struct{}) ([]model.File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, group_id, original_filename, stored_filename, description, size, uploaded_at, content_type
		FROM files`)
	if err != nil {
		return nil, apperr.IOError(err, "list files for orphan sweep")
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, apperr.IOError(err, "scan file row")
		}
		if _, ok := keep[f.GroupID]; !ok {
			out = append(out, f)
		}
	}
	return out, rows.Err()
}

// --- FileVersion ---

// AppendVersion inserts a new version for an existing file ("version
// upload"); the File row itself is not otherwise modified.
func (s *Store) AppendVersion(ctx context.Context, v model.FileVersion) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO file_versions
		(id, file_id, stored_filename, uploaded_at, uploader, comment, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FileID, v.StoredFilename, formatTime(v.UploadedAt), v.Uploader, v.Comment, v.Size)
	if err != nil {
		return apperr.IOError(err, "append version %s for file %s", v.ID, v.FileID)
	}
	return nil
}

func scanVersion(row interface{ Scan(...any) error }) (model.FileVersion, error) {
	var v model.FileVersion
	var uploadedAt string
	if err := row.Scan(&v.ID, &v.FileID, &v.StoredFilename, &uploadedAt, &v.Uploader, &v.Comment, &v.Size); err != nil {
		return model.FileVersion{}, err
	}
	var err error
	if v.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return model.FileVersion{}, err
	}
	return v, nil
}

// ListVersions returns every version of fileID, newest first.
func (s *Store) ListVersions(ctx context.Context, fileID string) ([]model.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, file_id, stored_filename, uploaded_at, uploader, comment, size
		FROM file_versions WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, apperr.IOError(err, "list versions of file %s", fileID)
	}
	defer rows.Close()

	var out []model.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, apperr.IOError(err, "scan version row")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return model.SortNewestFirst(out), nil
}

// GetVersion fetches a version by id, cross-checked against its owning
// file.
func (s *Store) GetVersion(ctx context.Context, fileID, versionID string) (model.FileVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, file_id, stored_filename, uploaded_at, uploader, comment, size
		FROM file_versions WHERE id = ? AND file_id = ?`, versionID, fileID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FileVersion{}, apperr.NotFound("version %s of file %s", versionID, fileID)
	}
	if err != nil {
		return model.FileVersion{}, apperr.IOError(err, "get version %s", versionID)
	}
	return v, nil
}

// VersionsWithFileNotIn returns versions whose file_id is not among keep —
// used by the orphan-row sweep (spec.md §4.5 step 2), run after orphan
// files have already been pruned.
func (s *Store) VersionsWithFileNotIn(ctx context.Context, keep map[string]struct{}) ([]model.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, file_id, stored_filename, uploaded_at, uploader, comment, size
		FROM file_versions`)
	if err != nil {
		return nil, apperr.IOError(err, "list versions for orphan sweep")
	}
	defer rows.Close()

	var out []model.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, apperr.IOError(err, "scan version row")
		}
		if _, ok := keep[v.FileID]; !ok {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

// DeleteOrphanFiles and DeleteOrphanVersions remove specific rows by id,
// used after FilesWithGroupNotIn / VersionsWithFileNotIn identify them.
func (s *Store) DeleteOrphanFiles(ctx context.Context, fileIDs []string) error {
	for _, id := range fileIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
			return apperr.IOError(err, "delete orphan file %s", id)
		}
	}
	return nil
}

func (s *Store) DeleteOrphanVersions(ctx context.Context, versionIDs []string) error {
	for _, id := range versionIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM file_versions WHERE id = ?`, id); err != nil {
			return apperr.IOError(err, "delete orphan version %s", id)
		}
	}
	return nil
}

// AllStoredFilenames returns the union of File.stored_filename and
// FileVersion.stored_filename, used by the on-disk orphan sweep (spec.md
// §4.5 step 3) to recognize stray blobs.
func (s *Store) AllStoredFilenames(ctx context.Context) (map[string]struct{}, error) {
	names := map[string]struct{}{}

	rows, err := s.db.QueryContext(ctx, `SELECT stored_filename FROM files`)
	if err != nil {
		return nil, apperr.IOError(err, "list file stored_filenames")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, apperr.IOError(err, "scan stored_filename")
		}
		names[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT stored_filename FROM file_versions`)
	if err != nil {
		return nil, apperr.IOError(err, "list version stored_filenames")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.IOError(err, "scan stored_filename")
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}
