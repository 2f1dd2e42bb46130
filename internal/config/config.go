// Package config loads runtime settings from CRMCORE_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"crmcore/internal/blob"
)

// Snapshot drivers.
const (
	SnapshotSQLite = "sqlite"
	SnapshotBlob   = "blob"
	SnapshotNone   = "none"
)

// Remote drivers.
const (
	RemotePostgres = "postgres"
	RemoteNone     = "none"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Snapshot Snapshot
	Remote   Remote
	Blob     blob.Config
	Log      Log
	Sync     Sync
	Industry string
	Actor    Actor
}

type Snapshot struct {
	Driver     string
	SQLitePath string
	BlobPrefix string
}

type Remote struct {
	Driver string
	DSN    string
}

type Log struct {
	Level  string
	Format string
}

// Sync tunes the outbox worker.
type Sync struct {
	Interval    time.Duration
	MaxAttempts int
	Rate        float64 // operations per second; 0 disables pacing
}

// Actor is the user the process acts as.
type Actor struct {
	ID   string
	Role string
}

// Load reads the process environment after applying envFiles (default
// ".env"). Missing env files are ignored; variables already set in the
// environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := ApplyEnvFile(file); err != nil {
			return Config{}, err
		}
	}
	return FromLookup(os.LookupEnv)
}

// ApplyEnvFile sets the variables of a dotenv file that are not already set.
// A missing file is not an error.
func ApplyEnvFile(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env (%s): %w", file, err)
	}
	return nil
}

// FromLookup resolves configuration through lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	env := reader{lookup: lookup}
	cfg := Config{
		Snapshot: Snapshot{
			Driver:     strings.ToLower(env.str("CRMCORE_SNAPSHOT_DRIVER", SnapshotSQLite)),
			SQLitePath: env.str("CRMCORE_SQLITE_PATH", "crmcore.db"),
			BlobPrefix: env.str("CRMCORE_SNAPSHOT_PREFIX", blob.DefaultSnapshotPrefix),
		},
		Remote: Remote{
			Driver: strings.ToLower(env.str("CRMCORE_REMOTE_DRIVER", RemoteNone)),
			DSN:    env.str("CRMCORE_POSTGRES_DSN", ""),
		},
		Blob: blob.Config{
			Driver: blob.Driver(strings.ToLower(env.str("CRMCORE_BLOB_DRIVER", string(blob.DriverFilesystem)))),
			FSRoot: env.str("CRMCORE_BLOB_FS_ROOT", "./blobdata"),
			S3: blob.S3Config{
				Bucket:          env.str("CRMCORE_BLOB_S3_BUCKET", ""),
				Region:          env.str("CRMCORE_BLOB_S3_REGION", ""),
				Endpoint:        env.str("CRMCORE_BLOB_S3_ENDPOINT", ""),
				AccessKeyID:     env.str("CRMCORE_BLOB_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: env.str("CRMCORE_BLOB_S3_SECRET_ACCESS_KEY", ""),
				SessionToken:    env.str("CRMCORE_BLOB_S3_SESSION_TOKEN", ""),
				PathStyle:       env.boolean("CRMCORE_BLOB_S3_PATH_STYLE", false),
			},
		},
		Log: Log{
			Level:  env.str("CRMCORE_LOG_LEVEL", "info"),
			Format: env.str("CRMCORE_LOG_FORMAT", "json"),
		},
		Sync: Sync{
			Interval:    env.duration("CRMCORE_SYNC_INTERVAL", 5*time.Second),
			MaxAttempts: env.integer("CRMCORE_SYNC_MAX_ATTEMPTS", 8),
			Rate:        env.float("CRMCORE_SYNC_RATE", 10),
		},
		Industry: env.str("CRMCORE_INDUSTRY", ""),
		Actor: Actor{
			ID:   env.str("CRMCORE_ACTOR_ID", "system"),
			Role: strings.ToLower(env.str("CRMCORE_ACTOR_ROLE", "admin")),
		},
	}
	if len(env.errs) > 0 {
		return Config{}, errors.Join(env.errs...)
	}
	return cfg, cfg.Validate()
}

// Validate checks driver names and driver-specific requirements.
func (c Config) Validate() error {
	switch c.Snapshot.Driver {
	case SnapshotSQLite, SnapshotBlob, SnapshotNone:
	default:
		return fmt.Errorf("CRMCORE_SNAPSHOT_DRIVER: unknown driver %q", c.Snapshot.Driver)
	}
	switch c.Remote.Driver {
	case RemoteNone:
	case RemotePostgres:
		if c.Remote.DSN == "" {
			return errors.New("CRMCORE_POSTGRES_DSN required for postgres remote")
		}
	default:
		return fmt.Errorf("CRMCORE_REMOTE_DRIVER: unknown driver %q", c.Remote.Driver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("CRMCORE_BLOB_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("CRMCORE_BLOB_DRIVER: unknown driver %q", c.Blob.Driver)
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("CRMCORE_SYNC_MAX_ATTEMPTS must be at least 1")
	}
	if c.Sync.Rate < 0 {
		return errors.New("CRMCORE_SYNC_RATE must not be negative")
	}
	return nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) boolean(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}
