// Package reclaim implements the background reclamation loop of spec.md
// §4.5: two-stage group expiry, orphan DB row pruning, orphan on-disk
// pruning, chunk-TTL sweep and session-file sweep. Each step is
// best-effort and independent — an error in one never prevents later
// steps (spec.md §4.5: "Errors are logged with the offending path").
package reclaim

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"groupbin/internal/blobstore"
	"groupbin/internal/cache"
	"groupbin/internal/clock"
	"groupbin/internal/metastore"
)

// Config bundles the horizons and paths one cycle needs.
type Config struct {
	Meta   *metastore.Store
	Blobs  *blobstore.Store
	Groups *cache.GroupCache // may be nil
	Clock  clock.Clock

	UploadRoot  string
	SessionsDir string

	// Cycle period; <= 0 disables the loop entirely.
	CyclePeriod time.Duration
	// T_data / T_db of the two-stage expiry.
	DataHorizon time.Duration
	DBHorizon   time.Duration
	// T_chunk_ttl of the chunk-TTL sweep.
	ChunkTTL time.Duration
	// T_session_ttl of the session-file sweep.
	SessionTTL time.Duration

	Logger *slog.Logger
}

// Loop runs Config's cycle on a ticker until Stop is called.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// minCyclePeriod clamps the configured period, per spec.md §4.5 "Clamped
// to a minimum (~1 minute)".
const minCyclePeriod = time.Minute

// New builds a Loop. The loop does not start until Start is called.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Clock
	if c == nil {
		c = clock.NewSystem()
	}
	cfg.Clock = c
	return &Loop{cfg: cfg, logger: logger}
}

// Start is idempotent and a no-op if CyclePeriod disables the loop.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	if l.cfg.CyclePeriod <= 0 {
		return
	}
	period := l.cfg.CyclePeriod
	if period < minCyclePeriod {
		period = minCyclePeriod
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started = true

	go l.run(ctx, period)
}

// Stop signals the worker to exit and joins it. No-op if never started.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, period time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle executes the five steps of spec.md §4.5 in order, once.
// Exported so callers (tests, the admin CLI's force-reclaim command) can
// trigger a cycle synchronously without waiting for the ticker.
func (l *Loop) RunCycle(ctx context.Context) {
	now := l.cfg.Clock.Now()

	l.expireGroups(ctx, now)
	l.pruneOrphanRows(ctx)
	l.pruneOrphanDiskEntries(ctx)
	l.sweepChunkTTL(now)
	l.sweepSessions(now)
}

// step 1: two-stage group expiry.
func (l *Loop) expireGroups(ctx context.Context, now time.Time) {
	dbCutoff := now.Add(-l.cfg.DBHorizon)
	hardDelete, err := l.cfg.Meta.GroupsExpiringBefore(ctx, dbCutoff)
	if err != nil {
		l.logger.Warn("reclaim: listing groups for hard delete failed", "error", err)
	} else {
		for _, g := range hardDelete {
			if err := l.cfg.Meta.DeleteGroup(ctx, g.ID); err != nil {
				l.logger.Warn("reclaim: hard delete failed", "group", g.ID, "error", err)
				continue
			}
			if err := l.cfg.Blobs.RemoveGroup(g.ID); err != nil {
				l.logger.Warn("reclaim: remove blob dir failed", "group", g.ID, "error", err)
			}
			if l.cfg.Groups != nil {
				l.cfg.Groups.Invalidate(g.ID)
			}
		}
	}

	dataCutoff := now.Add(-l.cfg.DataHorizon)
	dataExpiring, err := l.cfg.Meta.GroupsExpiringBefore(ctx, dataCutoff)
	if err != nil {
		l.logger.Warn("reclaim: listing groups for data removal failed", "error", err)
		return
	}
	for _, g := range dataExpiring {
		if g.ExpiresAt.Before(dbCutoff) {
			continue // already hard-deleted above
		}
		if err := l.cfg.Blobs.RemoveGroup(g.ID); err != nil {
			l.logger.Warn("reclaim: remove blob dir for data-expired group failed", "group", g.ID, "error", err)
		}
	}
}

// step 2: prune orphan DB rows, after cascade-eligible rows have vanished.
func (l *Loop) pruneOrphanRows(ctx context.Context) {
	groupIDs, err := l.cfg.Meta.AllGroupIDs(ctx)
	if err != nil {
		l.logger.Warn("reclaim: listing group ids failed", "error", err)
		return
	}

	orphanFiles, err := l.cfg.Meta.FilesWithGroupNotIn(ctx, groupIDs)
	if err != nil {
		l.logger.Warn("reclaim: listing orphan files failed", "error", err)
	} else {
		ids := make([]string, 0, len(orphanFiles))
		for _, f := range orphanFiles {
			ids = append(ids, f.ID)
		}
		if err := l.cfg.Meta.DeleteOrphanFiles(ctx, ids); err != nil {
			l.logger.Warn("reclaim: deleting orphan files failed", "error", err)
		}
	}

	fileIDs, err := allFileIDs(ctx, l.cfg.Meta, groupIDs)
	if err != nil {
		l.logger.Warn("reclaim: listing file ids failed", "error", err)
		return
	}
	orphanVersions, err := l.cfg.Meta.VersionsWithFileNotIn(ctx, fileIDs)
	if err != nil {
		l.logger.Warn("reclaim: listing orphan versions failed", "error", err)
		return
	}
	ids := make([]string, 0, len(orphanVersions))
	for _, v := range orphanVersions {
		ids = append(ids, v.ID)
	}
	if err := l.cfg.Meta.DeleteOrphanVersions(ctx, ids); err != nil {
		l.logger.Warn("reclaim: deleting orphan versions failed", "error", err)
	}
}

func allFileIDs(ctx context.Context, meta *metastore.Store, groupIDs map[string]struct{}) (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	for groupID := range groupIDs {
		files, err := meta.ListFilesInGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			ids[f.ID] = struct{}{}
		}
	}
	return ids, nil
}

// step 3: prune orphan on-disk entries.
func (l *Loop) pruneOrphanDiskEntries(ctx context.Context) {
	groupIDs, err := l.cfg.Meta.AllGroupIDs(ctx)
	if err != nil {
		l.logger.Warn("reclaim: listing group ids for disk sweep failed", "error", err)
		return
	}
	storedNames, err := l.cfg.Meta.AllStoredFilenames(ctx)
	if err != nil {
		l.logger.Warn("reclaim: listing stored filenames for disk sweep failed", "error", err)
		return
	}

	entries, err := l.cfg.Blobs.ListTopLevel()
	if err != nil {
		l.logger.Warn("reclaim: listing top-level blob entries failed", "error", err)
		return
	}

	for _, e := range entries {
		if e.Name == "tmp" {
			continue // descended separately in sweepChunkTTL
		}
		if e.Kind == blobstore.KindDir {
			if _, ok := groupIDs[e.Name]; ok {
				continue
			}
			if err := l.cfg.Blobs.RemoveGroup(e.Name); err != nil {
				l.logger.Warn("reclaim: removing orphan group dir failed", "name", e.Name, "error", err)
			}
			continue
		}
		if _, ok := storedNames[e.Name]; !ok {
			if err := l.cfg.Blobs.Remove("", e.Name); err != nil {
				l.logger.Warn("reclaim: removing stray file failed", "name", e.Name, "error", err)
			}
		}
	}
}

// step 4: chunk-TTL sweep under <upload_root>/tmp/.
func (l *Loop) sweepChunkTTL(now time.Time) {
	tmpDir := filepath.Join(l.cfg.UploadRoot, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("reclaim: reading tmp dir failed", "error", err)
		}
		return
	}

	ttl := l.cfg.ChunkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	for _, e := range entries {
		path := filepath.Join(tmpDir, e.Name())
		info, err := e.Info()
		if err != nil {
			l.logger.Warn("reclaim: stat tmp entry failed", "path", path, "error", err)
			continue
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}
		if e.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				l.logger.Warn("reclaim: removing stale chunk directory failed", "path", path, "error", err)
			}
			continue
		}
		if lockFilePattern.MatchString(e.Name()) {
			if err := os.Remove(path); err != nil {
				l.logger.Warn("reclaim: removing stale lock file failed", "path", path, "error", err)
			}
		}
	}
}

var lockFilePattern = regexp.MustCompile(`\.lock$`)

// step 5: session-file sweep.
func (l *Loop) sweepSessions(now time.Time) {
	if l.cfg.SessionsDir == "" {
		return
	}
	entries, err := os.ReadDir(l.cfg.SessionsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("reclaim: reading sessions dir failed", "error", err)
		}
		return
	}

	ttl := l.cfg.SessionTTL
	if ttl <= 0 {
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(l.cfg.SessionsDir, e.Name())
		info, err := e.Info()
		if err != nil {
			l.logger.Warn("reclaim: stat session file failed", "path", path, "error", err)
			continue
		}
		if now.Sub(info.ModTime()) > ttl {
			if err := os.Remove(path); err != nil {
				l.logger.Warn("reclaim: removing expired session file failed", "path", path, "error", err)
			}
		}
	}
}
