package listsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbRedis "github.com/kailas-cloud/listsync/internal/db/redis"
	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/auth"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
	deadletterrepo "github.com/kailas-cloud/listsync/internal/repository/deadletter"
	listingrepo "github.com/kailas-cloud/listsync/internal/repository/listing"
	"github.com/kailas-cloud/listsync/internal/repository/searchindex"
	deadletteruc "github.com/kailas-cloud/listsync/internal/usecase/deadletter"
	healthuc "github.com/kailas-cloud/listsync/internal/usecase/health"
	"github.com/kailas-cloud/listsync/internal/usecase/indexsync"
	reindexuc "github.com/kailas-cloud/listsync/internal/usecase/reindex"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultDeadDriver       = "sqlite3"
	defaultDeadDSN          = "file:sync_errors.db?_busy_timeout=5000"
)

// Internal interfaces for substitution in tests.
type syncUseCase interface {
	OnCreate(ctx context.Context, l *listing.Listing) error
	OnUpdate(ctx context.Context, l *listing.Listing) error
	OnDelete(ctx context.Context, id string) error
}

type reindexUseCase interface {
	Run(ctx context.Context, caller auth.Identity, req reindexuc.Request) (reindexuc.Report, error)
}

type syncErrorUseCase interface {
	List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error)
}

// Client is the listsync SDK entry point.
type Client struct {
	closers    []func()
	syncSvc    syncUseCase
	reindexSvc reindexUseCase
	syncErrors syncErrorUseCase
	healthSvc  healthUseCase
	obs        *observer
}

// New creates a Client, connects to Redis and the dead-letter store and ensures the index exists.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		keyPrefix:  domain.KeyPrefix,
		deadDriver: defaultDeadDriver,
		deadDSN:    defaultDeadDSN,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("listsync: redis address required (use WithRedis)")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	c := &Client{obs: obs}
	if err := c.wire(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) wire(ctx context.Context, cfg *clientConfig) error {
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return fmt.Errorf("listsync: create redis store: %w", err)
	}
	c.closers = append(c.closers, store.Close)

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		return fmt.Errorf("listsync: redis not ready: %w", err)
	}

	writer := searchindex.New(store, cfg.keyPrefix)
	if err := writer.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("listsync: ensure index: %w", err)
	}

	dead, err := deadletterrepo.Open(cfg.deadDriver, cfg.deadDSN)
	if err != nil {
		return fmt.Errorf("listsync: open dead-letter store: %w", err)
	}
	c.closers = append(c.closers, func() { _ = dead.Close() })
	if err := dead.Migrate(ctx); err != nil {
		return fmt.Errorf("listsync: migrate dead-letter store: %w", err)
	}

	recorder := deadletteruc.New(dead, nil)
	syncSvc := indexsync.New(writer, recorder)
	if cfg.retryAttempts > 0 {
		syncSvc = syncSvc.WithRetry(indexsync.RetryPolicy{
			Attempts:       cfg.retryAttempts,
			InitialBackoff: cfg.retryBackoff,
			MaxBackoff:     cfg.retryMaxBackoff,
		})
	}

	health := healthuc.New().
		WithCheck(healthuc.ComponentIndex, writer).
		WithCheck(healthuc.ComponentDeadLetter, dead)

	if cfg.canonicalDSN != "" {
		canonical, err := listingrepo.Open(ctx, listingrepo.Config{DSN: cfg.canonicalDSN})
		if err != nil {
			return fmt.Errorf("listsync: connect canonical store: %w", err)
		}
		c.closers = append(c.closers, canonical.Close)
		c.reindexSvc = reindexuc.New(canonical, writer)
		health = health.WithCheck(healthuc.ComponentCanonical, canonical)
	}

	c.syncSvc = syncSvc
	c.syncErrors = recorder
	c.healthSvc = health
	return nil
}

// Close releases all resources.
func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// OnCreate indexes a newly created listing. Index failures are dead-lettered, not returned.
func (c *Client) OnCreate(ctx context.Context, l *Listing) (err error) {
	cl := c.obs.begin("on_create", listingID(l))
	defer func() { c.obs.end(cl, 0, err) }()

	if err = c.syncSvc.OnCreate(ctx, l); err != nil {
		return fmt.Errorf("on create: %w", err)
	}
	return nil
}

// OnUpdate re-indexes a listing, or removes it when its status is no longer public.
func (c *Client) OnUpdate(ctx context.Context, l *Listing) (err error) {
	cl := c.obs.begin("on_update", listingID(l))
	defer func() { c.obs.end(cl, 0, err) }()

	if err = c.syncSvc.OnUpdate(ctx, l); err != nil {
		return fmt.Errorf("on update: %w", err)
	}
	return nil
}

// OnDelete removes a listing from the index. Deleting an unindexed id succeeds.
func (c *Client) OnDelete(ctx context.Context, id string) (err error) {
	cl := c.obs.begin("on_delete", id)
	defer func() { c.obs.end(cl, 0, err) }()

	if err = c.syncSvc.OnDelete(ctx, id); err != nil {
		return fmt.Errorf("on delete: %w", err)
	}
	return nil
}

// Reindex rebuilds the index from the canonical store on behalf of opts.Caller.
// It fails with ErrPermissionDenied unless opts.Roles holds an admin role.
// On failure the report describes the committed work and its Cursor resumes the run.
func (c *Client) Reindex(ctx context.Context, opts ReindexOptions) (report ReindexReport, err error) {
	cl := c.obs.begin("reindex", "")
	defer func() { c.obs.end(cl, report.TotalProcessed, err) }()

	if c.reindexSvc == nil {
		return ReindexReport{}, errors.New("listsync: canonical store not configured (use WithCanonical)")
	}

	after, err := listing.ParseCursor(opts.After)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("reindex: %w", err)
	}

	caller := auth.Identity{Subject: opts.Caller, Roles: opts.Roles}
	rep, err := c.reindexSvc.Run(ctx, caller, reindexuc.Request{After: after, PageSize: opts.PageSize})
	report = ReindexReport{
		OK:             rep.OK,
		TotalProcessed: rep.TotalProcessed,
		Pages:          rep.Pages,
		Deleted:        rep.Deleted,
		Cursor:         rep.Cursor.String(),
	}
	if err != nil {
		return report, fmt.Errorf("reindex: %w", err)
	}
	return report, nil
}

// SyncErrors lists dead-lettered writes, newest first. An empty id lists all.
func (c *Client) SyncErrors(ctx context.Context, id string, limit int) (_ []SyncError, err error) {
	cl := c.obs.begin("sync_errors", id)
	defer func() { c.obs.end(cl, 0, err) }()

	recs, err := c.syncErrors.List(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("sync errors: %w", err)
	}
	out := make([]SyncError, 0, len(recs))
	for _, r := range recs {
		out = append(out, syncErrorFromRecord(r))
	}
	return out, nil
}

func listingID(l *Listing) string {
	if l == nil {
		return ""
	}
	return l.ID
}
