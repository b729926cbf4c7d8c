package searchindex

import (
	"context"
	"testing"

	"github.com/kailas-cloud/listsync/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	pingFn         func(ctx context.Context) error
	putJSONFn      func(ctx context.Context, doc db.Doc) error
	putJSONMultiFn func(ctx context.Context, docs []db.Doc) error
	deleteFn       func(ctx context.Context, keys ...string) (int64, error)
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	indexInfoFn    func(ctx context.Context, name string) (db.IndexInfo, error)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) PutJSON(ctx context.Context, doc db.Doc) error {
	if m.putJSONFn != nil {
		return m.putJSONFn(ctx, doc)
	}
	return nil
}

func (m *mockStore) PutJSONMulti(ctx context.Context, docs []db.Doc) error {
	if m.putJSONMultiFn != nil {
		return m.putJSONMultiFn(ctx, docs)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, keys...)
	}
	return int64(len(keys)), nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

// IndexInfo reports a missing index unless indexInfoFn says otherwise.
func (m *mockStore) IndexInfo(ctx context.Context, name string) (db.IndexInfo, error) {
	if m.indexInfoFn != nil {
		return m.indexInfoFn(ctx, name)
	}
	return db.IndexInfo{}, db.ErrIndexNotFound
}

func newTestWriter(t *testing.T) (*Writer, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, "test:"), ms
}
