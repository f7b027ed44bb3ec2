// Package config loads and validates the environment-variable surface
// described in SPEC_FULL.md §6.3. It has no knowledge of HTTP, storage or
// the database — just the typed, validated settings every other package
// needs at construction time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every knob spec.md's table enumerates, plus the
// original_source/ supplements SPEC_FULL.md §9 lists (UnifiedPublicPassword,
// CreateGroupPublicPassword, AuthDelay, log rotation).
type Config struct {
	// Storage roots.
	UploadFolder string // UPLOAD_FOLDER
	DataDir      string // DATA_DIR
	DatabaseURI  string // SQLALCHEMY_DATABASE_URI (a sqlite file path here)

	// Upload limits.
	MaxUploadSizeMB          int64 // MAX_UPLOAD_SIZE_MB
	ChunkSizeMB              int64 // CHUNK_SIZE_MB (client hint only)
	FileMoveOperationMaxWait time.Duration // FILE_MOVE_OPERATION_MAX_WAIT_MS

	// Group TTL bounds.
	DefaultGroupDurationHours float64 // DEFAULT_GROUP_DURATION_HOURS
	MaxGroupDurationHours     float64 // MAX_GROUP_DURATION_HOURS

	// Site-wide password gates (enforced by the HTTP boundary, not the core).
	UnifiedPublicPassword     string // UNIFIED_PUBLIC_PASSWORD
	CreateGroupPublicPassword string // CREATE_GROUP_PUBLIC_PASSWORD

	// Reclamation loop periods.
	CleanIntervalHour           float64 // CLEAN_INTERVAL_HOUR
	CleanIntervalHourDeleteData float64 // CLEAN_INTERVAL_HOUR_DELETE_DATA
	CleanIntervalHourDeleteDB   float64 // CLEAN_INTERVAL_HOUR_DELETE_FROM_DB
	CleanIntervalHourSessions   float64 // CLEAN_INTERVAL_HOUR_DELETE_CLIENT_SESSION
	TempFileExpirationHours     float64 // TEMP_FILE_EXPIRATION_HOURS
	SessionLifetimeHours        float64 // SESSION_LIFETIME_HOURS

	// Logging.
	LogFileMaxSizeMB  int // LOG_FILE_MAX_SIZE_MB
	LogFileBackupCnt  int // LOG_FILE_BACKUP_COUNT

	// Required-but-unused-by-the-core secret (session cookie signing belongs
	// to the external HTTP boundary; the core only validates its presence).
	SecretKey string // SECRET_KEY

	// AuthDelay throttles repeated password checks (original_source/config.py
	// AUTH_DELAY_SECONDS, see SPEC_FULL.md §9).
	AuthDelay time.Duration
}

// MaxUploadSizeBytes converts the configured MB limit to bytes, matching
// the original's MAX_CONTENT_LENGTH computation.
func (c Config) MaxUploadSizeBytes() int64 {
	return c.MaxUploadSizeMB * 1024 * 1024
}

// Load reads every key from the process environment, applies the defaults
// spec.md documents, and validates the required trio (SECRET_KEY,
// UPLOAD_FOLDER, database URI) per spec.md §6: "Validation on startup."
func Load() (Config, error) {
	cfg := Config{
		UploadFolder: os.Getenv("UPLOAD_FOLDER"),
		DataDir:      os.Getenv("DATA_DIR"),
		DatabaseURI:  os.Getenv("SQLALCHEMY_DATABASE_URI"),
		SecretKey:    os.Getenv("SECRET_KEY"),

		UnifiedPublicPassword:     os.Getenv("UNIFIED_PUBLIC_PASSWORD"),
		CreateGroupPublicPassword: os.Getenv("CREATE_GROUP_PUBLIC_PASSWORD"),
	}

	var err error
	if cfg.MaxUploadSizeMB, err = intEnv("MAX_UPLOAD_SIZE_MB", 100); err != nil {
		return Config{}, err
	}
	if cfg.ChunkSizeMB, err = intEnv("CHUNK_SIZE_MB", 5); err != nil {
		return Config{}, err
	}

	waitMS, err := intEnv("FILE_MOVE_OPERATION_MAX_WAIT_MS", 3000)
	if err != nil {
		return Config{}, err
	}
	cfg.FileMoveOperationMaxWait = time.Duration(waitMS) * time.Millisecond

	if cfg.DefaultGroupDurationHours, err = floatEnv("DEFAULT_GROUP_DURATION_HOURS", 24); err != nil {
		return Config{}, err
	}
	if cfg.MaxGroupDurationHours, err = floatEnv("MAX_GROUP_DURATION_HOURS", 168); err != nil {
		return Config{}, err
	}

	if cfg.CleanIntervalHour, err = floatEnv("CLEAN_INTERVAL_HOUR", 1); err != nil {
		return Config{}, err
	}
	if cfg.CleanIntervalHourDeleteData, err = floatEnv("CLEAN_INTERVAL_HOUR_DELETE_DATA", 72); err != nil {
		return Config{}, err
	}
	if cfg.CleanIntervalHourDeleteDB, err = floatEnv("CLEAN_INTERVAL_HOUR_DELETE_FROM_DB", 144); err != nil {
		return Config{}, err
	}
	if cfg.CleanIntervalHourSessions, err = floatEnv("CLEAN_INTERVAL_HOUR_DELETE_CLIENT_SESSION", 24); err != nil {
		return Config{}, err
	}
	if cfg.TempFileExpirationHours, err = floatEnv("TEMP_FILE_EXPIRATION_HOURS", 24); err != nil {
		return Config{}, err
	}
	if cfg.SessionLifetimeHours, err = floatEnv("SESSION_LIFETIME_HOURS", 24); err != nil {
		return Config{}, err
	}

	if cfg.LogFileMaxSizeMB, err = intEnvInt("LOG_FILE_MAX_SIZE_MB", 10); err != nil {
		return Config{}, err
	}
	if cfg.LogFileBackupCnt, err = intEnvInt("LOG_FILE_BACKUP_COUNT", 5); err != nil {
		return Config{}, err
	}

	authDelaySeconds, err := floatEnv("AUTH_DELAY_SECONDS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.AuthDelay = time.Duration(authDelaySeconds * float64(time.Second))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces spec.md §6's startup checks.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("config: SECRET_KEY is required")
	}
	if c.UploadFolder == "" {
		return fmt.Errorf("config: UPLOAD_FOLDER is required")
	}
	if c.DatabaseURI == "" {
		return fmt.Errorf("config: SQLALCHEMY_DATABASE_URI is required")
	}
	return nil
}

func intEnv(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func intEnvInt(key string, def int) (int, error) {
	n, err := intEnv(key, int64(def))
	return int(n), err
}

func floatEnv(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
