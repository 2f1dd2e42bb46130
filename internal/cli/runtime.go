package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crmcore/internal/blob"
	"crmcore/internal/config"
	"crmcore/internal/core"
	"crmcore/internal/infra/persistence/postgres"
	"crmcore/internal/infra/persistence/sqlite"
	"crmcore/internal/logger"
	"crmcore/pkg/domain"
)

// runtime is one command's view of the configured stores.
type runtime struct {
	cfg     config.Config
	log     zerolog.Logger
	svc     *core.Service
	hydrate core.HydrateReport
	closers []io.Closer
}

// openRuntime resolves configuration, opens the configured stores and
// hydrates the service from them.
func openRuntime(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, commandError("config", err)
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	rt := &runtime{
		cfg: cfg,
		log: logger.New(logger.Config{Level: level, Format: cfg.Log.Format, Service: "crmcore", Writer: cmd.ErrOrStderr()}),
	}

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, commandError("open blob store", err)
	}
	svcOpts := []core.Option{
		core.WithLogger(rt.log),
		core.WithBlobStore(blobs),
		core.WithActor(domain.User{ID: cfg.Actor.ID, Role: domain.Role(cfg.Actor.Role)}),
	}

	switch cfg.Snapshot.Driver {
	case config.SnapshotSQLite:
		snap, err := sqlite.NewStore(cfg.Snapshot.SQLitePath)
		if err != nil {
			return nil, commandError("open sqlite snapshot", err)
		}
		rt.closers = append(rt.closers, snap)
		svcOpts = append(svcOpts, core.WithSnapshotStore(snap))
	case config.SnapshotBlob:
		svcOpts = append(svcOpts, core.WithSnapshotStore(blob.NewSnapshotStore(blobs, cfg.Snapshot.BlobPrefix)))
	}

	if cfg.Remote.Driver == config.RemotePostgres {
		remote, err := postgres.NewStore(ctx, cfg.Remote.DSN)
		if err != nil {
			// Offline: keep working from the snapshot.
			rt.log.Warn().Err(err).Msg("remote unavailable")
		} else {
			rt.closers = append(rt.closers, remote)
			svcOpts = append(svcOpts, core.WithRemote(remote, core.OutboxConfig{
				MaxAttempts: cfg.Sync.MaxAttempts,
				Rate:        cfg.Sync.Rate,
				Interval:    cfg.Sync.Interval,
			}))
		}
	}

	rt.svc = core.NewInMemoryService(svcOpts...)
	report, err := rt.svc.Hydrate(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, commandError("hydrate", err)
	}
	rt.hydrate = report
	if cfg.Industry != "" && rt.svc.Settings().ActiveIndustry != cfg.Industry {
		if res := rt.svc.SetActiveIndustry(ctx, cfg.Industry); !res.Success {
			rt.log.Warn().Str("industry", cfg.Industry).Str("error", res.Error).Msg("configured industry not applied")
		}
	}
	return rt, nil
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.EnvFile != "" {
		if err := config.ApplyEnvFile(opts.EnvFile); err != nil {
			return config.Config{}, err
		}
	}
	return config.FromLookup(opts.lookup)
}

// flush drains the outbox once so commits made by this command reach the
// remote before the process exits. Operations that could not be applied are
// reported and left for the next run's hydrate to reconcile.
func (r *runtime) flush(ctx context.Context) core.DrainReport {
	ob := r.svc.Outbox()
	if ob == nil {
		return core.DrainReport{}
	}
	report, err := ob.Drain(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("sync interrupted")
	}
	if left := len(ob.Pending()) + len(ob.DeadLetters()); left > 0 {
		r.log.Warn().Int("unsynced", left).Msg("changes not yet on the remote")
	}
	return report
}

// Close releases the stores.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withRuntime opens the runtime, runs fn, flushes the outbox and closes.
func withRuntime(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, rt *runtime, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, opts, cmd)
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt, newFormatter(opts, cmd))
	rt.flush(ctx)
	if err := rt.Close(); err != nil {
		rt.log.Warn().Err(err).Msg("close stores")
	}
	return runErr
}

func entityArg(name string) (domain.EntityType, error) {
	t, ok := domain.ParseEntityType(name)
	if !ok {
		return "", rejected(fmt.Sprintf("unknown entity type %q", name))
	}
	return t, nil
}
