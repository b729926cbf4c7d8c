package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/changefeed"
	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/auth"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
	"github.com/kailas-cloud/listsync/internal/logger"
	healthuc "github.com/kailas-cloud/listsync/internal/usecase/health"
	reindexuc "github.com/kailas-cloud/listsync/internal/usecase/reindex"
	"github.com/kailas-cloud/listsync/internal/version"
)

const (
	maxEventBytes       = 1 << 20
	publisherRole       = "publisher"
	defaultSyncErrLimit = 50
	maxSyncErrLimit     = 500
)

// Reindexer runs a full index rebuild.
type Reindexer interface {
	Run(ctx context.Context, caller auth.Identity, req reindexuc.Request) (reindexuc.Report, error)
}

// EventPublisher accepts change events for asynchronous handling.
type EventPublisher interface {
	Publish(ctx context.Context, e changefeed.Event) error
}

// SyncErrorLister reads the dead-letter log.
type SyncErrorLister interface {
	List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error)
}

// HealthChecker aggregates dependency health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server serves the operator and webhook HTTP API.
type Server struct {
	reindex        Reindexer
	events         EventPublisher
	syncErrors     SyncErrorLister
	health         HealthChecker
	adminRoles     []string
	publisherRoles []string
	adminRPM       int
	runCtx         context.Context
	reindexTimeout time.Duration
	logger         *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	reindex Reindexer,
	events EventPublisher,
	syncErrors SyncErrorLister,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		reindex:        reindex,
		events:         events,
		syncErrors:     syncErrors,
		health:         health,
		adminRoles:     reindexuc.DefaultAdminRoles,
		publisherRoles: []string{publisherRole},
		adminRPM:       30,
		runCtx:         context.Background(),
		logger:         logger,
	}
}

// WithAdminRoles sets the roles allowed on /admin routes that do not enforce roles themselves.
func (s *Server) WithAdminRoles(roles ...string) *Server {
	if len(roles) > 0 {
		s.adminRoles = roles
	}
	return s
}

// WithPublisherRoles sets the roles, besides the admin roles, allowed to POST /events.
func (s *Server) WithPublisherRoles(roles ...string) *Server {
	if len(roles) > 0 {
		s.publisherRoles = roles
	}
	return s
}

// WithRunContext sets the parent context of reindex runs. A run outlives the request
// that started it and stops when ctx is done, so pass the process lifetime context.
func (s *Server) WithRunContext(ctx context.Context) *Server {
	if ctx != nil {
		s.runCtx = ctx
	}
	return s
}

// WithReindexTimeout bounds a single reindex run. Zero means no bound.
func (s *Server) WithReindexTimeout(d time.Duration) *Server {
	s.reindexTimeout = d
	return s
}

// WithAdminRateLimit sets the per-IP request budget per minute on /admin routes. Zero disables it.
func (s *Server) WithAdminRateLimit(perMinute int) *Server {
	s.adminRPM = perMinute
	return s
}

// Register mounts all routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/events", s.PublishEvent)

	r.Route("/admin", func(r chi.Router) {
		if s.adminRPM > 0 {
			r.Use(httprate.LimitByIP(s.adminRPM, time.Minute))
		}
		r.Post("/reindex", s.Reindex)
		r.Get("/sync-errors", s.ListSyncErrors)
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]any{
		"status":  report.Status,
		"checks":  report.Checks,
		"version": version.Version,
	})
}

// PublishEvent handles POST /events. The caller needs a publisher or admin role.
func (s *Server) PublishEvent(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	if !caller.HasAnyRole(s.publisherRoles...) && !caller.HasAnyRole(s.adminRoles...) {
		writeError(w, r, http.StatusForbidden, codeForbidden, domain.ErrPermissionDenied.Error())
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "unreadable request body")
		return
	}
	if len(raw) > maxEventBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, codeBadRequest,
			fmt.Sprintf("event exceeds %d bytes", maxEventBytes))
		return
	}

	e, err := changefeed.Decode(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidEvent, err.Error())
		return
	}

	if err := s.events.Publish(r.Context(), e); err != nil {
		logger.FromContext(r.Context()).Error("publish change event",
			zap.String("op", string(e.Op)), zap.String("listing_id", e.ListingID()), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, codeFeedUnavailable, "change feed unavailable")
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{"ok": true, "id": e.ListingID()})
}

type reindexRequest struct {
	After    string `json:"after"`
	PageSize int    `json:"pageSize"`
}

type reindexResponse struct {
	OK             bool   `json:"ok"`
	TotalProcessed int    `json:"totalProcessed"`
	Pages          int    `json:"pages"`
	Deleted        int    `json:"deleted"`
	Cursor         string `json:"cursor"`
	Error          string `json:"error,omitempty"`
}

// Reindex handles POST /admin/reindex. The body is optional.
// The run is detached from the request: a client that disconnects does not abort
// it halfway. It ends with the server's run context or the reindex timeout.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	if req.PageSize < 0 {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "pageSize must be positive")
		return
	}
	after, err := listing.ParseCursor(req.After)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidCursor, err.Error())
		return
	}

	caller := auth.FromContext(r.Context())
	ctx, cancel := s.reindexContext(r.Context())
	defer cancel()
	report, err := s.reindex.Run(ctx, caller, reindexuc.Request{After: after, PageSize: req.PageSize})

	resp := reindexResponse{
		OK:             report.OK,
		TotalProcessed: report.TotalProcessed,
		Pages:          report.Pages,
		Deleted:        report.Deleted,
		Cursor:         report.Cursor.String(),
	}
	if err != nil {
		status, code, msg := errorStatus(err)
		if status == http.StatusForbidden {
			writeError(w, r, status, code, msg)
			return
		}
		logger.FromContext(r.Context()).Error("reindex failed",
			zap.String("caller", caller.Subject), zap.Error(err))
		resp.Error = msg
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Error = "reindex canceled"
		}
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	render.JSON(w, r, resp)
}

// reindexContext derives a run context from runCtx that carries the request's logger
// and caller but not its cancellation.
func (s *Server) reindexContext(req context.Context) (context.Context, context.CancelFunc) {
	ctx := logger.ContextWithLogger(s.runCtx, logger.FromContext(req))
	ctx = auth.WithIdentity(ctx, auth.FromContext(req))
	if s.reindexTimeout > 0 {
		return context.WithTimeout(ctx, s.reindexTimeout)
	}
	return context.WithCancel(ctx)
}

// ListSyncErrors handles GET /admin/sync-errors?listing_id=&limit=.
func (s *Server) ListSyncErrors(w http.ResponseWriter, r *http.Request) {
	if !auth.FromContext(r.Context()).HasAnyRole(s.adminRoles...) {
		writeError(w, r, http.StatusForbidden, codeForbidden, domain.ErrPermissionDenied.Error())
		return
	}

	limit := defaultSyncErrLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSyncErrLimit {
			writeError(w, r, http.StatusBadRequest, codeBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxSyncErrLimit))
			return
		}
		limit = n
	}

	recs, err := s.syncErrors.List(r.Context(), r.URL.Query().Get("listing_id"), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("list sync errors", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	if recs == nil {
		recs = []syncerr.Record{}
	}
	render.JSON(w, r, map[string]any{"items": recs, "count": len(recs)})
}
