package storage

import (
	"context"
	"fmt"
	"sort"
)

type entryKey struct {
	namespace string
	key       string
}

// Overlay buffers writes in memory on top of a backend until Commit. Reads
// see buffered writes first. It is not safe for concurrent use.
type Overlay struct {
	backend KV
	pending map[entryKey][]byte
}

func NewOverlay(backend KV) *Overlay {
	return &Overlay{backend: backend, pending: make(map[entryKey][]byte)}
}

func (o *Overlay) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if v, ok := o.pending[entryKey{namespace, key}]; ok {
		return append([]byte(nil), v...), true, nil
	}
	return o.backend.Get(ctx, namespace, key)
}

func (o *Overlay) Put(_ context.Context, namespace, key string, value []byte) error {
	o.pending[entryKey{namespace, key}] = append([]byte(nil), value...)
	return nil
}

// Pending reports the number of buffered writes.
func (o *Overlay) Pending() int {
	return len(o.pending)
}

// Checkpoint snapshots the buffered writes. Calling the returned function
// discards everything written since.
func (o *Overlay) Checkpoint() func() {
	saved := make(map[entryKey][]byte, len(o.pending))
	for k, v := range o.pending {
		saved[k] = v
	}
	return func() { o.pending = saved }
}

// Commit writes all buffered entries to the backend in one batch.
func (o *Overlay) Commit(ctx context.Context) error {
	if len(o.pending) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(o.pending))
	for k, v := range o.pending {
		entries = append(entries, Entry{Namespace: k.namespace, Key: k.key, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Namespace != entries[j].Namespace {
			return entries[i].Namespace < entries[j].Namespace
		}
		return entries[i].Key < entries[j].Key
	})
	if err := o.backend.PutBatch(ctx, entries); err != nil {
		return fmt.Errorf("commit %d entries: %w", len(entries), err)
	}
	o.pending = make(map[entryKey][]byte)
	return nil
}

// Scope returns a view of the overlay restricted to one namespace.
func (o *Overlay) Scope(namespace string) *Scoped {
	return &Scoped{overlay: o, namespace: namespace}
}

// Scoped is a single-namespace view of an Overlay.
type Scoped struct {
	overlay   *Overlay
	namespace string
}

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.overlay.Get(ctx, s.namespace, key)
}

func (s *Scoped) Put(ctx context.Context, key string, value []byte) error {
	return s.overlay.Put(ctx, s.namespace, key, value)
}
