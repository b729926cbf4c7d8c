package esindex

import (
	"fmt"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// Elasticsearch reserves leading-underscore field names, so _geoloc is stored as location.
const indexMapping = `{
  "mappings": {
    "properties": {
      "objectID":    {"type": "keyword"},
      "title":       {"type": "text", "analyzer": "english"},
      "description": {"type": "text", "analyzer": "english"},
      "status":      {"type": "keyword"},
      "currency":    {"type": "keyword"},
      "agentId":     {"type": "keyword"},
      "features":    {"type": "keyword"},
      "images":      {"type": "keyword", "index": false},
      "price":       {"type": "double"},
      "bedrooms":    {"type": "integer"},
      "bathrooms":   {"type": "float"},
      "area":        {"type": "double"},
      "views":       {"type": "long"},
      "score":       {"type": "float"},
      "version":     {"type": "long"},
      "createdAt":   {"type": "date"},
      "updatedAt":   {"type": "date"},
      "featuredUntil": {"type": "date"},
      "location":    {"type": "geo_point"}
    }
  }
}`

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// esDoc is the stored shape. The shallower nil GeoLoc hides the projection's _geoloc.
type esDoc struct {
	*projection.Document
	GeoLoc   *struct{} `json:"_geoloc,omitempty"`
	Location *geoPoint `json:"location,omitempty"`
}

func toESDoc(doc *projection.Document) esDoc {
	out := esDoc{Document: doc}
	if doc.GeoLoc != nil {
		out.Location = &geoPoint{Lat: doc.GeoLoc.Lat, Lon: doc.GeoLoc.Lng}
	}
	return out
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

// err reports the first rejected item. The page is transient when any rejection is retryable.
func (br *bulkResponse) err() error {
	if !br.Errors {
		return nil
	}
	var (
		first     *bulkItemResult
		failed    int
		transient bool
	)
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				continue
			}
			failed++
			if retryableStatus(r.Status) {
				transient = true
			}
			if first == nil {
				first = &r
			}
		}
	}
	if first == nil {
		return domain.NewIndexError(domain.IndexOpBulkUpsert, "", fmt.Errorf("bulk reported errors without failed items"))
	}
	reason := ""
	if first.Error != nil {
		reason = first.Error.Type + ": " + first.Error.Reason
	}
	err := fmt.Errorf("%d of %d items rejected, first %s (status %d): %s",
		failed, len(br.Items), first.ID, first.Status, reason)
	if transient {
		return domain.NewIndexError(domain.IndexOpBulkUpsert, "", err)
	}
	return domain.NewPermanentIndexError(domain.IndexOpBulkUpsert, "", err)
}
