package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/listsync/internal/changefeed"
	"github.com/kailas-cloud/listsync/internal/domain/auth"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
	healthuc "github.com/kailas-cloud/listsync/internal/usecase/health"
	reindexuc "github.com/kailas-cloud/listsync/internal/usecase/reindex"
)

type mockReindexer struct {
	runFn func(ctx context.Context, caller auth.Identity, req reindexuc.Request) (reindexuc.Report, error)
}

func (m *mockReindexer) Run(ctx context.Context, caller auth.Identity, req reindexuc.Request) (reindexuc.Report, error) {
	return m.runFn(ctx, caller, req)
}

type mockPublisher struct {
	published []changefeed.Event
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, e changefeed.Event) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, e)
	return nil
}

type mockSyncErrors struct {
	listFn func(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error)
}

func (m *mockSyncErrors) List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error) {
	return m.listFn(ctx, listingID, limit)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type testDeps struct {
	reindex    *mockReindexer
	events     *mockPublisher
	syncErrors *mockSyncErrors
	health     *mockHealth
}

func newTestDeps() *testDeps {
	return &testDeps{
		reindex: &mockReindexer{runFn: func(context.Context, auth.Identity, reindexuc.Request) (reindexuc.Report, error) {
			return reindexuc.Report{OK: true}, nil
		}},
		events: &mockPublisher{},
		syncErrors: &mockSyncErrors{listFn: func(context.Context, string, int) ([]syncerr.Record, error) {
			return nil, nil
		}},
		health: &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}},
	}
}

// newTestRouter wires the server behind bearer auth with testTokens.
func newTestRouter(d *testDeps) http.Handler {
	return newRouterFor(NewServer(d.reindex, d.events, d.syncErrors, d.health, nil).WithAdminRateLimit(0))
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func newRouterFor(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuthMiddleware(testTokens))
	s.Register(r)
	return r
}
