// Package db defines the Redis facade the RediSearch Index Writer is built on.
package db

import (
	"context"
	"time"
)

// Store is everything the search index writer needs from Redis.
type Store interface {
	Pinger
	DocumentStore
	IndexManager
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Doc is one JSON document, always written whole at the root path.
type Doc struct {
	Key  string
	Data []byte
}

// DocumentStore stores and removes whole JSON documents.
type DocumentStore interface {
	PutJSON(ctx context.Context, doc Doc) error
	// PutJSONMulti writes docs in one round-trip. Earlier docs stay written when a later one fails.
	PutJSONMulti(ctx context.Context, docs []Doc) error
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
}

// IndexManager manages the FT index lifecycle.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	// IndexInfo returns ErrIndexNotFound when the index does not exist.
	IndexInfo(ctx context.Context, name string) (IndexInfo, error)
}

// IndexInfo is the part of FT.INFO the writer and health checks read.
type IndexInfo struct {
	Name    string
	NumDocs int64
	// Indexing is set while existing keys are still being scanned into a new index.
	Indexing         bool
	PercentIndexed   float64
	IndexingFailures int64
}
