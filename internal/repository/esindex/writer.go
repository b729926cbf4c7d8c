package esindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// Config holds Elasticsearch connection parameters.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// RetryMax is the number of transport-level retries on 429/5xx and connection errors.
	RetryMax int
	Timeout  time.Duration
}

// Writer is the Elasticsearch Index Writer.
type Writer struct {
	es    *elasticsearch.Client
	index string
}

// New creates a Writer. Retries are done by a retryablehttp transport;
// the client's own retry loop is disabled so attempts are not multiplied.
func New(cfg Config, logger *zap.Logger) (*Writer, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses are required")
	}
	if cfg.Index == "" {
		cfg.Index = "listings"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if logger != nil {
		rc.Logger = &retryLogger{l: logger.Named("es-transport").Sugar()}
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    rc.StandardClient().Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Writer{es: es, index: cfg.Index}, nil
}

// EnsureIndex creates the index with the listing mapping when it does not exist.
func (w *Writer) EnsureIndex(ctx context.Context) error {
	res, err := w.es.Indices.Exists([]string{w.index}, w.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", w.index, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: status %s", w.index, res.Status())
	}

	res, err = w.es.Indices.Create(w.index,
		w.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		w.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", w.index, err)
	}
	defer drain(res)
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// Lost a creation race with another replica.
		if bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return nil
		}
		return fmt.Errorf("create index %s [%s]: %s", w.index, res.Status(), body)
	}
	return nil
}

// Upsert replaces the stored document for doc.ObjectID.
func (w *Writer) Upsert(ctx context.Context, doc *projection.Document) error {
	body, err := json.Marshal(toESDoc(doc))
	if err != nil {
		return domain.NewPermanentIndexError(domain.IndexOpUpsert, doc.ObjectID, err)
	}

	res, err := w.es.Index(w.index, bytes.NewReader(body),
		w.es.Index.WithDocumentID(doc.ObjectID),
		w.es.Index.WithContext(ctx),
	)
	if err != nil {
		return domain.NewIndexError(domain.IndexOpUpsert, doc.ObjectID, err)
	}
	defer drain(res)
	if res.IsError() {
		return statusError(domain.IndexOpUpsert, doc.ObjectID, res)
	}
	return nil
}

// BulkUpsert writes docs with one _bulk request. Any rejected item fails the whole call.
func (w *Writer) BulkUpsert(ctx context.Context, docs []projection.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		meta := map[string]any{"index": map[string]any{"_id": docs[i].ObjectID}}
		if err := enc.Encode(meta); err != nil {
			return domain.NewPermanentIndexError(domain.IndexOpBulkUpsert, docs[i].ObjectID, err)
		}
		if err := enc.Encode(toESDoc(&docs[i])); err != nil {
			return domain.NewPermanentIndexError(domain.IndexOpBulkUpsert, docs[i].ObjectID, err)
		}
	}

	res, err := w.es.Bulk(&buf,
		w.es.Bulk.WithIndex(w.index),
		w.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return domain.NewIndexError(domain.IndexOpBulkUpsert, "", err)
	}
	defer drain(res)
	if res.IsError() {
		return statusError(domain.IndexOpBulkUpsert, "", res)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return domain.NewIndexError(domain.IndexOpBulkUpsert, "", fmt.Errorf("decode bulk response: %w", err))
	}
	return br.err()
}

// Delete removes the document. A missing document is not an error.
func (w *Writer) Delete(ctx context.Context, id string) error {
	res, err := w.es.Delete(w.index, id, w.es.Delete.WithContext(ctx))
	if err != nil {
		return domain.NewIndexError(domain.IndexOpDelete, id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return statusError(domain.IndexOpDelete, id, res)
	}
	return nil
}

// Ping checks the cluster is reachable.
func (w *Writer) Ping(ctx context.Context) error {
	res, err := w.es.Ping(w.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: status %s", res.Status())
	}
	return nil
}

// statusError turns a non-2xx response into an IndexError. 429 and 5xx are transient.
func statusError(op domain.IndexOp, id string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	err := fmt.Errorf("status %s: %s", res.Status(), bytes.TrimSpace(body))
	if retryableStatus(res.StatusCode) {
		return domain.NewIndexError(op, id, err)
	}
	return domain.NewPermanentIndexError(op, id, err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
