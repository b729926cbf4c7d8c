package reindex

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/auth"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
	"github.com/kailas-cloud/listsync/internal/metrics"
)

// Defaults for a reindex run.
const (
	DefaultPageSize    = 500
	MaxPageSize        = 5000
	DefaultPageTimeout = 30 * time.Second
)

// DefaultAdminRoles may start a full reindex.
var DefaultAdminRoles = []string{"admin", "superadmin"}

// Request parameterizes a run. A zero After starts from the beginning.
type Request struct {
	After    listing.Cursor
	PageSize int
}

// Report summarizes a run. On failure it describes the work committed before the failing page,
// and Cursor is where a retry should resume.
type Report struct {
	OK             bool
	TotalProcessed int
	Pages          int
	Deleted        int
	Cursor         listing.Cursor
}

// Service rebuilds the search index from the canonical store, one page at a time.
type Service struct {
	reader      ListingReader
	writer      IndexWriter
	adminRoles  []string
	pageSize    int
	pageTimeout time.Duration
	limiter     *rate.Limiter
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a reindex service.
func New(reader ListingReader, writer IndexWriter) *Service {
	return &Service{
		reader:      reader,
		writer:      writer,
		adminRoles:  DefaultAdminRoles,
		pageSize:    DefaultPageSize,
		pageTimeout: DefaultPageTimeout,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
}

// WithAdminRoles sets the roles allowed to run a reindex.
func (s *Service) WithAdminRoles(roles ...string) *Service {
	if len(roles) > 0 {
		s.adminRoles = roles
	}
	return s
}

// WithPageSize sets the default page size.
func (s *Service) WithPageSize(n int) *Service {
	if n > 0 {
		s.pageSize = min(n, MaxPageSize)
	}
	return s
}

// WithPageTimeout bounds each page's read and write.
func (s *Service) WithPageTimeout(d time.Duration) *Service {
	if d > 0 {
		s.pageTimeout = d
	}
	return s
}

// WithPacing limits how many pages start per second. Zero disables pacing.
func (s *Service) WithPacing(pagesPerSecond float64) *Service {
	if pagesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(pagesPerSecond), 1)
	} else {
		s.limiter = nil
	}
	return s
}

// WithClock overrides the scoring clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Run reindexes every listing after req.After. Visible listings are bulk-upserted,
// retracted ones removed. A failing page stops the run; the returned Report still
// describes the pages already committed.
func (s *Service) Run(ctx context.Context, caller auth.Identity, req Request) (Report, error) {
	if !caller.HasAnyRole(s.adminRoles...) {
		return Report{}, fmt.Errorf("reindex requires one of roles %v: %w", s.adminRoles, domain.ErrPermissionDenied)
	}

	pageSize := s.pageSize
	if req.PageSize > 0 {
		pageSize = min(req.PageSize, MaxPageSize)
	}

	log := s.logger.With(zap.String("caller", caller.Subject), zap.Int("page_size", pageSize))
	log.Info("reindex started", zap.Stringer("after", req.After))

	rep := Report{Cursor: req.After}
	for {
		if err := ctx.Err(); err != nil {
			log.Warn("reindex canceled", zap.Int("pages", rep.Pages), zap.Stringer("cursor", rep.Cursor))
			return rep, fmt.Errorf("reindex canceled after %d pages: %w", rep.Pages, err)
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return rep, fmt.Errorf("reindex canceled after %d pages: %w", rep.Pages, err)
			}
		}

		res, err := s.page(ctx, rep.Cursor, pageSize)
		if err != nil {
			metrics.ReindexPagesTotal.WithLabelValues("failed").Inc()
			log.Error("reindex page failed",
				zap.Int("pages", rep.Pages),
				zap.Int("total_processed", rep.TotalProcessed),
				zap.Stringer("cursor", rep.Cursor),
				zap.Error(err),
			)
			return rep, fmt.Errorf("reindex page %d: %w", rep.Pages+1, err)
		}
		if res.count == 0 {
			break
		}

		metrics.ReindexPagesTotal.WithLabelValues("ok").Inc()
		metrics.ReindexDocumentsTotal.Add(float64(res.count))
		rep.Pages++
		rep.TotalProcessed += res.count
		rep.Deleted += res.deleted
		rep.Cursor = res.next

		if res.count < pageSize {
			break
		}
	}

	rep.OK = true
	log.Info("reindex finished",
		zap.Int("pages", rep.Pages),
		zap.Int("total_processed", rep.TotalProcessed),
		zap.Int("deleted", rep.Deleted),
	)
	return rep, nil
}

type pageResult struct {
	count   int
	deleted int
	next    listing.Cursor
}

// page reads and writes one page under its own timeout.
func (s *Service) page(ctx context.Context, after listing.Cursor, size int) (pageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	rows, err := s.reader.ListAfter(ctx, after, size)
	if err != nil {
		return pageResult{}, fmt.Errorf("list listings: %w", err)
	}
	if len(rows) == 0 {
		return pageResult{}, nil
	}

	now := s.now()
	docs := make([]projection.Document, 0, len(rows))
	var retracted []string
	for i := range rows {
		l := &rows[i]
		if !l.Status.Visible() {
			retracted = append(retracted, l.ID)
			continue
		}
		docs = append(docs, projection.For(l, now))
	}

	if len(docs) > 0 {
		if err := s.writer.BulkUpsert(ctx, docs); err != nil {
			return pageResult{}, fmt.Errorf("bulk upsert %d documents: %w", len(docs), err)
		}
	}
	for _, id := range retracted {
		if err := s.writer.Delete(ctx, id); err != nil {
			return pageResult{}, fmt.Errorf("remove retracted listing: %w", err)
		}
	}

	return pageResult{
		count:   len(rows),
		deleted: len(retracted),
		next:    listing.CursorOf(&rows[len(rows)-1]),
	}, nil
}
