package bleveindex

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/blevesearch/bleve/v2"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

func newMemWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func doc(id string, lat, lng float64) projection.Document {
	return projection.Document{
		ObjectID: id,
		Title:    "Canal house " + id,
		Status:   listing.StatusActive,
		Score:    0.5,
		GeoLoc:   &projection.GeoLoc{Lat: lat, Lng: lng},
	}
}

func docCount(t *testing.T, w *Writer) uint64 {
	t.Helper()
	n, err := w.index.DocCount()
	if err != nil {
		t.Fatalf("doc count: %v", err)
	}
	return n
}

func TestUpsert_ReplacesDocument(t *testing.T) {
	w := newMemWriter(t)
	ctx := context.Background()

	d := doc("a", 52.37, 4.89)
	if err := w.Upsert(ctx, &d); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	d.Title = "Renamed"
	if err := w.Upsert(ctx, &d); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n := docCount(t, w); n != 1 {
		t.Fatalf("doc count = %d, want 1", n)
	}

	q := bleve.NewMatchQuery("renamed")
	q.SetField("title")
	res, err := w.index.Search(bleve.NewSearchRequest(q))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected the replaced title to be searchable, got %d hits", res.Total)
	}
}

func TestBulkUpsert_GeoSearchable(t *testing.T) {
	w := newMemWriter(t)
	docs := []projection.Document{
		doc("ams", 52.3676, 4.9041),
		doc("rtm", 51.9244, 4.4777),
		{ObjectID: "nogeo", Title: "Somewhere"},
	}
	if err := w.BulkUpsert(context.Background(), docs); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if n := docCount(t, w); n != 3 {
		t.Fatalf("doc count = %d, want 3", n)
	}

	q := bleve.NewGeoDistanceQuery(4.9041, 52.3676, "5km")
	q.SetField("_geoloc")
	res, err := w.index.Search(bleve.NewSearchRequest(q))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 1 || res.Hits[0].ID != "ams" {
		t.Fatalf("geo search = %d hits, want only ams", res.Total)
	}
}

func TestDelete_MissingIsNoop(t *testing.T) {
	w := newMemWriter(t)
	ctx := context.Background()

	if err := w.Delete(ctx, "never-indexed"); err != nil {
		t.Fatalf("delete of missing doc must succeed: %v", err)
	}

	d := doc("a", 0, 0)
	_ = w.Upsert(ctx, &d)
	if err := w.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := docCount(t, w); n != 0 {
		t.Fatalf("doc count = %d, want 0", n)
	}
}

func TestCanceledContext(t *testing.T) {
	w := newMemWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := doc("a", 0, 0)
	err := w.Upsert(ctx, &d)
	if !errors.Is(err, domain.ErrIndexProvider) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected IndexError wrapping context.Canceled, got %v", err)
	}
	if domain.IsTransient(err) {
		t.Error("cancellation must not be retried")
	}
}

func TestClosedIndexIsPermanent(t *testing.T) {
	w, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = w.Close()

	if err := w.Delete(context.Background(), "a"); domain.IsTransient(err) || err == nil {
		t.Fatalf("expected permanent error on closed index, got %v", err)
	}
	if err := w.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail on closed index")
	}
}

func TestOpen_OnDiskReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.bleve")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d := doc("a", 1, 1)
	if err := w.Upsert(context.Background(), &d); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()
	if n := docCount(t, w); n != 1 {
		t.Fatalf("doc count after reopen = %d, want 1", n)
	}
}
