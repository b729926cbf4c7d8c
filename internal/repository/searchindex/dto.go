package searchindex

import (
	"strconv"

	"github.com/kailas-cloud/listsync/internal/db"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// jsonDoc is the stored shape: the projection plus the "lon,lat" string RediSearch GEO fields read.
type jsonDoc struct {
	*projection.Document
	Location string `json:"location,omitempty"`
}

func toJSONDoc(doc *projection.Document) jsonDoc {
	out := jsonDoc{Document: doc}
	if doc.GeoLoc != nil {
		out.Location = strconv.FormatFloat(doc.GeoLoc.Lng, 'f', -1, 64) + "," +
			strconv.FormatFloat(doc.GeoLoc.Lat, 'f', -1, 64)
	}
	return out
}

// buildIndex describes the listing schema. Query-time ranking reads score; geo radius reads location.
// agentTrust and location are INDEXMISSING so listings without them stay queryable with ismissing().
func buildIndex(name, prefix string) (*db.IndexDefinition, error) {
	return db.NewIndex(name).
		OnJSON().
		Prefix(prefix).
		Language("english").
		Text("$.title", "title", 2).
		Text("$.description", "description", 0).
		Tag("$.status", "status").
		Tag("$.currency", "currency").
		Tag("$.agentId", "agentId").
		Tag("$.features[*]", "features").
		Numeric("$.score", "score", true).
		Numeric("$.price", "price", true).
		Numeric("$.bedrooms", "bedrooms", false).
		Numeric("$.area", "area", false).
		Numeric("$.agentTrust", "agentTrust", false).Missing().
		Numeric("$.version", "version", false).
		Geo("$.location", "location").Missing().
		Build()
}
