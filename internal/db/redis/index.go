package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listsync/internal/db"
)

const unknownIndex = "unknown index name"

// CreateIndex runs FT.CREATE for def.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if serverErrContains(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Key: def.Name, Err: err}
	}
	return nil
}

// IndexInfo reads document counts and indexing progress from FT.INFO.
func (s *Store) IndexInfo(ctx context.Context, name string) (db.IndexInfo, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	m, err := s.do(ctx, cmd).AsMap()
	if err != nil {
		if serverErrContains(err, unknownIndex) {
			return db.IndexInfo{}, db.ErrIndexNotFound
		}
		return db.IndexInfo{}, &db.Error{Op: db.OpIndexInfo, Key: name, Err: err}
	}

	info := db.IndexInfo{Name: name}
	info.NumDocs = infoInt(m, "num_docs")
	info.Indexing = infoInt(m, "indexing") != 0
	info.PercentIndexed = infoFloat(m, "percent_indexed")
	info.IndexingFailures = infoInt(m, "hash_indexing_failures")
	return info, nil
}

// infoInt reads an FT.INFO counter. Values arrive as integers or numeric strings
// depending on protocol and server version; absent or unparsable values read as zero.
func infoInt(m map[string]rueidis.RedisMessage, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if n, err := v.AsInt64(); err == nil {
		return n
	}
	if f, err := v.AsFloat64(); err == nil {
		return int64(f)
	}
	return 0
}

func infoFloat(m map[string]rueidis.RedisMessage, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if f, err := v.AsFloat64(); err == nil {
		return f
	}
	return 0
}

func buildCreateArgs(idx *db.IndexDefinition) ([]string, error) {
	if idx == nil {
		return nil, errors.New("index definition is nil")
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}

	storage := idx.StorageType
	if storage == "" {
		storage = db.StorageHash
	}
	args := []string{idx.Name, "ON", string(storage)}

	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}
	if idx.Language != "" {
		args = append(args, "LANGUAGE", idx.Language)
	}

	args = append(args, "SCHEMA")
	for i := range idx.Fields {
		args = append(args, idx.Fields[i].Args()...)
	}
	return args, nil
}
