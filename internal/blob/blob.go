// Package blob is the only entry point other packages use for object
// storage. It re-exports the core contract and selects a driver.
package blob

import (
	"context"
	"fmt"

	"crmcore/internal/blob/core"
	fsdriver "crmcore/internal/infra/blob/fs"
	memdriver "crmcore/internal/infra/blob/memory"
	s3driver "crmcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3-compatible driver.
	S3Config = s3driver.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// Config selects and configures a driver. An empty Driver means fs.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fsdriver.New(cfg.FSRoot)
	case DriverS3:
		return s3driver.New(ctx, cfg.S3)
	case DriverMemory:
		return memdriver.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

// NewMemory returns an in-process store; used by tests and the CLI's
// throwaway mode.
func NewMemory() Store { return memdriver.New() }
