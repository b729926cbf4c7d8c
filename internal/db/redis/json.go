package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listsync/internal/db"
)

const rootPath = "$"

// PutJSON replaces the document at doc.Key.
func (s *Store) PutJSON(ctx context.Context, doc db.Doc) error {
	if err := s.do(ctx, s.jsonSet(doc)).Error(); err != nil {
		return &db.Error{Op: db.OpJSONSet, Key: doc.Key, Err: err}
	}
	return nil
}

// PutJSONMulti pipelines one JSON.SET per doc. The first failing doc is reported;
// nothing is rolled back.
func (s *Store) PutJSONMulti(ctx context.Context, docs []db.Doc) error {
	if len(docs) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(docs))
	for i := range docs {
		cmds[i] = s.jsonSet(docs[i])
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpJSONSet, Key: docs[i].Key, Err: err}
		}
	}
	return nil
}

func (s *Store) jsonSet(doc db.Doc) rueidis.Completed {
	return s.b().JsonSet().Key(doc.Key).Path(rootPath).Value(rueidis.BinaryString(doc.Data)).Build()
}

// Delete removes keys in one DEL. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.do(ctx, s.b().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		e := &db.Error{Op: db.OpDel, Err: err}
		if len(keys) == 1 {
			e.Key = keys[0]
		}
		return 0, e
	}
	return n, nil
}
