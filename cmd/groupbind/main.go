// Command groupbind is the groupbin server process: it wires config,
// metadata store, blob store, group cache, upload assembler, file
// service, reclamation loop and HTTP boundary together and serves the
// wire protocol of spec.md §6. Wiring style is grounded on the teacher's
// cmd/server/main.go (DocumentServer over bare net/http.ServeMux).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"groupbin/internal/blobstore"
	"groupbin/internal/cache"
	"groupbin/internal/clock"
	"groupbin/internal/config"
	"groupbin/internal/fileservice"
	"groupbin/internal/httpapi"
	"groupbin/internal/logrotate"
	"groupbin/internal/metastore"
	"groupbin/internal/reclaim"
	"groupbin/internal/upload"
)

const groupCacheSize = 4096

func main() {
	if err := run(); err != nil {
		slog.Error("groupbind: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	dbPath := cfg.DatabaseURI
	if !filepath.IsAbs(dbPath) && cfg.DataDir != "" {
		dbPath = filepath.Join(cfg.DataDir, dbPath)
	}
	meta, err := metastore.Open(dbPath, metastore.Options{})
	if err != nil {
		return err
	}
	defer meta.Close()

	blobs := blobstore.New(cfg.UploadFolder)

	groupCache, err := cache.NewGroupCache(groupCacheSize)
	if err != nil {
		return err
	}

	progressDir := filepath.Join(cfg.UploadFolder, "tmp", ".progress")
	progress, err := upload.OpenProgressCache(progressDir)
	if err != nil {
		logger.Warn("groupbind: progress cache unavailable, falling back to disk checks", "error", err)
		progress = nil
	} else {
		defer progress.Close()
	}

	svc := fileservice.New(fileservice.Config{
		Meta:                      meta,
		Blobs:                     blobs,
		Groups:                    groupCache,
		Clock:                     clock.NewSystem(),
		DefaultGroupDurationHours: cfg.DefaultGroupDurationHours,
		MaxGroupDurationHours:     cfg.MaxGroupDurationHours,
		AuthDelay:                 cfg.AuthDelay,
	})

	assembler := upload.New(upload.Config{
		Root:          cfg.UploadFolder,
		MaxUploadSize: cfg.MaxUploadSizeBytes(),
		MoveMaxWait:   cfg.FileMoveOperationMaxWait,
		Blobs:         blobs,
		Committer:     svc,
		Progress:      progress,
		Logger:        logger,
	})
	svc.SetAssembler(assembler)

	loop := reclaim.New(reclaim.Config{
		Meta:        meta,
		Blobs:       blobs,
		Groups:      groupCache,
		Clock:       clock.NewSystem(),
		UploadRoot:  cfg.UploadFolder,
		SessionsDir: filepath.Join(cfg.DataDir, "sessions"),
		CyclePeriod: durationFromHours(cfg.CleanIntervalHour),
		DataHorizon: durationFromHours(cfg.CleanIntervalHourDeleteData),
		DBHorizon:   durationFromHours(cfg.CleanIntervalHourDeleteDB),
		ChunkTTL:    durationFromHours(cfg.TempFileExpirationHours),
		SessionTTL:  durationFromHours(cfg.CleanIntervalHourSessions),
		Logger:      logger,
	})
	loop.Start()
	defer loop.Stop()

	server := httpapi.New(svc, logger)

	httpServer := &http.Server{
		Addr:    listenAddr(),
		Handler: server,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("groupbind: listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

func listenAddr() string {
	if addr := os.Getenv("GROUPBIND_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func durationFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

func setupLogger(cfg config.Config) (*slog.Logger, func(), error) {
	if cfg.DataDir == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil)), func() {}, nil
	}

	logPath := filepath.Join(cfg.DataDir, "groupbin.log")
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, err
	}
	writer, err := logrotate.New(logPath, cfg.LogFileMaxSizeMB, cfg.LogFileBackupCnt)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(writer, nil))
	return logger, func() { writer.Close() }, nil
}
