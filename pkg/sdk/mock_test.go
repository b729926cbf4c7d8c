package listsync

import (
	"context"

	"github.com/kailas-cloud/listsync/internal/domain/auth"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
	healthuc "github.com/kailas-cloud/listsync/internal/usecase/health"
	reindexuc "github.com/kailas-cloud/listsync/internal/usecase/reindex"
)

// --- syncUseCase mock ---

type mockSyncUC struct {
	createFn func(ctx context.Context, l *listing.Listing) error
	updateFn func(ctx context.Context, l *listing.Listing) error
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockSyncUC) OnCreate(ctx context.Context, l *listing.Listing) error {
	return m.createFn(ctx, l)
}

func (m *mockSyncUC) OnUpdate(ctx context.Context, l *listing.Listing) error {
	return m.updateFn(ctx, l)
}

func (m *mockSyncUC) OnDelete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

// --- reindexUseCase mock ---

type mockReindexUC struct {
	runFn func(ctx context.Context, caller auth.Identity, req reindexuc.Request) (reindexuc.Report, error)
}

func (m *mockReindexUC) Run(
	ctx context.Context, caller auth.Identity, req reindexuc.Request,
) (reindexuc.Report, error) {
	return m.runFn(ctx, caller, req)
}

// --- syncErrorUseCase mock ---

type mockSyncErrorUC struct {
	listFn func(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error)
}

func (m *mockSyncErrorUC) List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error) {
	return m.listFn(ctx, listingID, limit)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(context.Context) healthuc.Report { return m.report }
