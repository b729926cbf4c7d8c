package bleveindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// Writer is the embedded Bleve Index Writer. Bleve serializes writes internally,
// so a Writer is safe for concurrent use.
type Writer struct {
	index bleve.Index
}

// Open opens the on-disk index at path, creating it with the listing mapping when absent.
// An empty path creates an in-memory index.
func Open(path string) (*Writer, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &Writer{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &Writer{index: idx}, nil
}

// buildIndexMapping maps the projection's JSON field names. Title is analyzed in English
// and boosted at query time; status-like fields are exact keywords; _geoloc is a geopoint.
func buildIndexMapping() mapping.IndexMapping {
	title := bleve.NewTextFieldMapping()
	title.Analyzer = "en"

	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", title)
	docMapping.AddFieldMappingsAt("description", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("status", keyword)
	docMapping.AddFieldMappingsAt("currency", keyword)
	docMapping.AddFieldMappingsAt("agentId", keyword)
	docMapping.AddFieldMappingsAt("features", keyword)
	docMapping.AddFieldMappingsAt("score", numeric)
	docMapping.AddFieldMappingsAt("price", numeric)
	docMapping.AddFieldMappingsAt("bedrooms", numeric)
	docMapping.AddFieldMappingsAt("area", numeric)
	docMapping.AddFieldMappingsAt("version", numeric)
	docMapping.AddFieldMappingsAt("createdAt", date)
	docMapping.AddFieldMappingsAt("_geoloc", bleve.NewGeoPointFieldMapping())

	images := bleve.NewDocumentDisabledMapping()
	docMapping.AddSubDocumentMapping("images", images)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Upsert replaces the stored document for doc.ObjectID.
func (w *Writer) Upsert(ctx context.Context, doc *projection.Document) error {
	if err := ctx.Err(); err != nil {
		return domain.NewIndexError(domain.IndexOpUpsert, doc.ObjectID, err)
	}
	fields, err := toFields(doc)
	if err != nil {
		return domain.NewPermanentIndexError(domain.IndexOpUpsert, doc.ObjectID, err)
	}
	if err := w.index.Index(doc.ObjectID, fields); err != nil {
		return classify(domain.IndexOpUpsert, doc.ObjectID, err)
	}
	return nil
}

// BulkUpsert applies all docs as one Bleve batch.
func (w *Writer) BulkUpsert(ctx context.Context, docs []projection.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return domain.NewIndexError(domain.IndexOpBulkUpsert, "", err)
	}
	batch := w.index.NewBatch()
	for i := range docs {
		fields, err := toFields(&docs[i])
		if err != nil {
			return domain.NewPermanentIndexError(domain.IndexOpBulkUpsert, docs[i].ObjectID, err)
		}
		if err := batch.Index(docs[i].ObjectID, fields); err != nil {
			return domain.NewPermanentIndexError(domain.IndexOpBulkUpsert, docs[i].ObjectID, err)
		}
	}
	if err := w.index.Batch(batch); err != nil {
		return classify(domain.IndexOpBulkUpsert, "", err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (w *Writer) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewIndexError(domain.IndexOpDelete, id, err)
	}
	if err := w.index.Delete(id); err != nil {
		return classify(domain.IndexOpDelete, id, err)
	}
	return nil
}

// Ping reports whether the index is open.
func (w *Writer) Ping(_ context.Context) error {
	if _, err := w.index.DocCount(); err != nil {
		return fmt.Errorf("bleve index: %w", err)
	}
	return nil
}

// Close flushes and closes the index.
func (w *Writer) Close() error {
	if err := w.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

// toFields goes through JSON so the mapping sees the projection's wire names
// and _geoloc as a {lat,lng} map.
func toFields(doc *projection.Document) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", doc.ObjectID, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", doc.ObjectID, err)
	}
	return fields, nil
}

// classify treats a closed index as permanent; anything else is an I/O failure worth retrying.
func classify(op domain.IndexOp, id string, err error) error {
	if errors.Is(err, bleve.ErrorIndexClosed) {
		return domain.NewPermanentIndexError(op, id, err)
	}
	return domain.NewIndexError(op, id, err)
}
