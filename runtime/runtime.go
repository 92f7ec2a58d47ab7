// Package runtime ties the encoder, the catalog index and the task queue
// together for the "has this exact item been seen before" fast path.
package runtime

import (
	"context"
	"fmt"

	"github.com/doujins-org/compkit/embedder"
	"github.com/doujins-org/compkit/index"
	"github.com/doujins-org/compkit/tasks"
)

// PhotoSource resolves an item ID to its primary photo bytes. It is
// implemented by the host app (object store, DB row, presigned URL fetch).
type PhotoSource func(ctx context.Context, itemID string) ([]byte, error)

type Config struct {
	Encoder *embedder.Service
	Index   index.Index
	Tasks   *tasks.Repo
	Source  PhotoSource
}

// Runtime maintains the catalog of previously-seen item embeddings.
type Runtime struct {
	encoder *embedder.Service
	index   index.Index
	tasks   *tasks.Repo
	source  PhotoSource
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("Encoder is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("Index is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("Source is required")
	}
	return &Runtime{
		encoder: cfg.Encoder,
		index:   cfg.Index,
		tasks:   cfg.Tasks,
		source:  cfg.Source,
	}, nil
}

// EnqueueIndexItem schedules background indexing of an item's photo. Requires
// a task repo.
func (r *Runtime) EnqueueIndexItem(ctx context.Context, itemID string, reason string) error {
	if r.tasks == nil {
		return fmt.Errorf("task repo is not configured")
	}
	return r.tasks.Enqueue(ctx, itemID, r.encoder.Model(), reason)
}

// IndexItem embeds the item's photo and inserts the vector into the catalog
// index. Intended to be called from a background worker.
func (r *Runtime) IndexItem(ctx context.Context, itemID string) error {
	data, err := r.source(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load photo for %s: %w", itemID, err)
	}
	vec, err := r.encoder.Encode(ctx, data)
	if err != nil {
		return fmt.Errorf("encode photo for %s: %w", itemID, err)
	}
	return r.index.Insert(ctx, itemID, vec)
}

// Seen is one catalog match for a query photo.
type Seen struct {
	ItemID     string
	Similarity float32
}

// Lookup answers whether a photo matches previously-indexed items: the top-k
// catalog entries with similarity at or above minSimilarity.
func (r *Runtime) Lookup(ctx context.Context, photo []byte, k int, minSimilarity float32) ([]Seen, error) {
	vec, err := r.encoder.Encode(ctx, photo)
	if err != nil {
		return nil, fmt.Errorf("encode query photo: %w", err)
	}
	hits, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	out := make([]Seen, 0, len(hits))
	for _, h := range hits {
		if h.Score < minSimilarity {
			continue
		}
		out = append(out, Seen{ItemID: h.ID, Similarity: h.Score})
	}
	return out, nil
}
