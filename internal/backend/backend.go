// Package backend builds the storage, catalog and lock backends named by the
// configuration and wires them into core services.
package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/config"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/db"
	"github.com/edvin/statekeeper/internal/lock"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/objectstore"
	"github.com/edvin/statekeeper/internal/statestore"
)

// Backends holds the opened backends. Close releases them.
type Backends struct {
	Store   statestore.Store
	Archive archive.Archive
	Catalog *catalog.Catalog
	Locker  lock.Locker
	// Pool is the catalog database pool; nil for the file catalog.
	Pool *pgxpool.Pool

	cfg     *config.Config
	s3      objectstore.S3API
	closers []func()
}

// Open connects every backend cfg selects. owner identifies this process in
// remote leases. The postgres catalog is migrated before use.
func Open(ctx context.Context, cfg *config.Config, owner string, logger zerolog.Logger) (*Backends, error) {
	b := &Backends{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	var err error
	if b.Store, err = b.openStateStore(ctx); err != nil {
		return nil, err
	}
	if b.Archive, err = b.openArchive(ctx); err != nil {
		return nil, err
	}
	store, err := b.openCatalogStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	b.Catalog = catalog.New(store, b.Archive, logger)
	if b.Locker, err = b.openLocker(ctx, owner, logger); err != nil {
		return nil, err
	}

	logger.Debug().
		Str("state_store", cfg.StateStore.Backend).
		Str("archive", cfg.Archive.Backend).
		Str("catalog", cfg.Catalog.Backend).
		Str("lock", cfg.Lock.Backend).
		Msg("backends opened")
	ok = true
	return b, nil
}

// s3Client creates the shared S3 client on first use.
func (b *Backends) s3Client(ctx context.Context) (objectstore.S3API, error) {
	if b.s3 != nil {
		return b.s3, nil
	}
	client, err := objectstore.NewS3Client(ctx, b.cfg.S3Options())
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	b.s3 = client
	return client, nil
}

func (b *Backends) openStateStore(ctx context.Context) (statestore.Store, error) {
	c := b.cfg.StateStore
	switch c.Backend {
	case "s3":
		client, err := b.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return statestore.NewS3Store(client, c.Bucket, c.Prefix, c.Key), nil
	case "gcs":
		client, err := statestore.NewGCSClient(ctx, c.CredentialsFile)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Close() })
		return statestore.NewGCSStore(client, c.Bucket, c.Prefix), nil
	case "local":
		return statestore.NewLocalStore(c.Path), nil
	}
	return nil, fmt.Errorf("unknown state store backend %q", c.Backend)
}

func (b *Backends) openArchive(ctx context.Context) (archive.Archive, error) {
	c := b.cfg.Archive
	switch c.Backend {
	case "filesystem":
		return archive.NewFilesystem(c.Root), nil
	case "s3":
		client, err := b.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return archive.NewS3(client, c.Bucket, c.Prefix), nil
	}
	return nil, fmt.Errorf("unknown archive backend %q", c.Backend)
}

func (b *Backends) openCatalogStore(ctx context.Context, logger zerolog.Logger) (catalog.Store, error) {
	c := b.cfg.Catalog
	switch c.Backend {
	case "file":
		return catalog.NewFileStore(c.Dir), nil
	case "postgres":
		if err := db.RunMigrations(c.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate catalog database: %w", err)
		}
		pool, err := db.NewCatalogPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.Pool = pool
		b.closers = append(b.closers, pool.Close)
		if err := metrics.RegisterCatalogPool(pool); err != nil {
			logger.Warn().Err(err).Msg("catalog pool metrics not registered")
		}
		return catalog.NewPostgresStore(pool), nil
	}
	return nil, fmt.Errorf("unknown catalog backend %q", c.Backend)
}

func (b *Backends) openLocker(ctx context.Context, owner string, logger zerolog.Logger) (lock.Locker, error) {
	c := b.cfg.Lock
	switch c.Backend {
	case "mutex":
		return lock.NewMutexLocker(c.Prefix, c.Timeout), nil
	case "s3":
		client, err := b.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		bucket := c.Bucket
		if bucket == "" {
			bucket = b.cfg.StateStore.Bucket
		}
		return lock.NewS3Locker(client, bucket, c.Prefix, owner, c.Timeout, c.LeaseTTL, logger), nil
	case "none":
		return lock.Noop{}, nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", c.Backend)
}

// Deps assembles core dependencies from the opened backends.
func (b *Backends) Deps(confirmer confirm.Provider, provenance core.ProvenanceSource, logger zerolog.Logger) core.Deps {
	return core.Deps{
		Store:            b.Store,
		Archive:          b.Archive,
		Catalog:          b.Catalog,
		Locker:           b.Locker,
		Confirm:          confirmer,
		Provenance:       provenance,
		Policies:         b.cfg,
		Logger:           logger,
		AllowEmptyBackup: b.cfg.AllowEmptyBackup,
		PruneAfterBackup: b.cfg.PruneAfterBackup,
	}
}

// HealthChecks returns liveness probes for the networked backends.
func (b *Backends) HealthChecks() map[string]metrics.HealthFunc {
	checks := map[string]metrics.HealthFunc{}
	if b.Pool != nil {
		checks["catalog_db"] = func(ctx context.Context) error { return b.Pool.Ping(ctx) }
	}
	return checks
}

// Close releases backend connections in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
