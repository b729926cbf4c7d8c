package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listsync/internal/db"
	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// store is the consumer interface for the Redis index (ISP).
type store interface {
	Ping(ctx context.Context) error
	PutJSON(ctx context.Context, doc db.Doc) error
	PutJSONMulti(ctx context.Context, docs []db.Doc) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexInfo(ctx context.Context, name string) (db.IndexInfo, error)
}

// Writer is the RediSearch Index Writer. Each listing is one JSON document
// under <prefix>listing:<id>, covered by the <prefix>listings:idx FT index.
type Writer struct {
	store  store
	prefix string
}

// New creates a Writer. An empty prefix uses domain.KeyPrefix.
func New(s store, prefix string) *Writer {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Writer{store: s, prefix: prefix}
}

// EnsureIndex creates the FT index if it does not exist yet. An existing index is
// left alone even if its schema differs; drop it by hand to pick up schema changes.
func (w *Writer) EnsureIndex(ctx context.Context) error {
	name := w.indexName()
	_, err := w.store.IndexInfo(ctx, name)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, db.ErrIndexNotFound):
		return fmt.Errorf("inspect index %s: %w", name, err)
	}

	def, err := buildIndex(name, w.keyPrefix())
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}
	// Another replica may have won the race since FT.INFO.
	if err := w.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Upsert replaces the stored document for doc.ObjectID.
func (w *Writer) Upsert(ctx context.Context, doc *projection.Document) error {
	data, err := json.Marshal(toJSONDoc(doc))
	if err != nil {
		return domain.NewPermanentIndexError(domain.IndexOpUpsert, doc.ObjectID, err)
	}
	if err := w.store.PutJSON(ctx, db.Doc{Key: w.key(doc.ObjectID), Data: data}); err != nil {
		return classify(domain.IndexOpUpsert, doc.ObjectID, err)
	}
	return nil
}

// BulkUpsert writes all docs in one pipeline.
func (w *Writer) BulkUpsert(ctx context.Context, docs []projection.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]db.Doc, len(docs))
	for i := range docs {
		data, err := json.Marshal(toJSONDoc(&docs[i]))
		if err != nil {
			return domain.NewPermanentIndexError(domain.IndexOpBulkUpsert, docs[i].ObjectID, err)
		}
		batch[i] = db.Doc{Key: w.key(docs[i].ObjectID), Data: data}
	}
	if err := w.store.PutJSONMulti(ctx, batch); err != nil {
		return classify(domain.IndexOpBulkUpsert, w.idFromKey(err), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (w *Writer) Delete(ctx context.Context, id string) error {
	if _, err := w.store.Delete(ctx, w.key(id)); err != nil {
		return classify(domain.IndexOpDelete, id, err)
	}
	return nil
}

// Ping checks the index backend is reachable and the listing index exists.
func (w *Writer) Ping(ctx context.Context) error {
	if err := w.store.Ping(ctx); err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	if _, err := w.store.IndexInfo(ctx, w.indexName()); err != nil {
		return fmt.Errorf("redis index %s: %w", w.indexName(), err)
	}
	return nil
}

// Stats reports how many listings the FT index currently covers.
func (w *Writer) Stats(ctx context.Context) (db.IndexInfo, error) {
	info, err := w.store.IndexInfo(ctx, w.indexName())
	if err != nil {
		return db.IndexInfo{}, fmt.Errorf("redis index %s: %w", w.indexName(), err)
	}
	return info, nil
}

func (w *Writer) key(id string) string {
	return w.keyPrefix() + id
}

// idFromKey recovers the listing id from the key a pipelined write failed on.
func (w *Writer) idFromKey(err error) string {
	var de *db.Error
	if !errors.As(err, &de) {
		return ""
	}
	return strings.TrimPrefix(de.Key, w.keyPrefix())
}

func (w *Writer) keyPrefix() string {
	return w.prefix + "listing:"
}

func (w *Writer) indexName() string {
	return w.prefix + "listings:idx"
}

// transientRedisErrs are server replies that succeed when retried.
var transientRedisErrs = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "OOM"}

// classify marks server-side rejections as permanent; transport failures stay transient.
func classify(op domain.IndexOp, id string, err error) error {
	var re *rueidis.RedisError
	if !errors.As(err, &re) {
		return domain.NewIndexError(op, id, err)
	}
	msg := re.Error()
	for _, prefix := range transientRedisErrs {
		if strings.HasPrefix(msg, prefix) {
			return domain.NewIndexError(op, id, err)
		}
	}
	return domain.NewPermanentIndexError(op, id, err)
}
