package storage

import (
	"context"
	"errors"

	"ammledger/internal/model"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("storage closed")

// Entry is one namespaced key-value pair.
type Entry struct {
	Namespace string
	Key       string
	Value     []byte
}

// KV is durable key-value storage partitioned by namespace. PutBatch must
// apply all entries or none.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	PutBatch(ctx context.Context, entries []Entry) error
	Close() error
}

// EventSink persists committed pool events.
type EventSink interface {
	PutEventBatch(ctx context.Context, events []model.PoolEvent) error
}
