// Package rank re-orders marketplace candidates by embedding-space visual
// similarity to the query photo.
package rank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doujins-org/compkit/embedder"
	"github.com/doujins-org/compkit/marketplace"
)

// Fetcher downloads a candidate image. Implementations are host-owned; the
// engine applies its own per-fetch timeout to the context it passes in.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Ranked is one re-ranked candidate. Similarity is nil only in degraded
// (unranked) mode; candidates whose image could not be fetched or encoded are
// dropped, never emitted with a nil score.
type Ranked struct {
	Listing    marketplace.Listing
	Similarity *float32
	FinalRank  int
}

type EngineConfig struct {
	Encoder *embedder.Service
	Fetcher Fetcher

	// Defaults.
	Concurrency  int           // default 4
	FetchTimeout time.Duration // default 5s, per candidate
	Logger       *slog.Logger
}

// Engine fetches and encodes candidate images with bounded concurrency and
// sorts candidates by cosine similarity to the photo vector.
type Engine struct {
	encoder      *embedder.Service
	fetcher      Fetcher
	concurrency  int
	fetchTimeout time.Duration
	logger       *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("Fetcher is required")
	}
	e := &Engine{
		encoder:      cfg.Encoder,
		fetcher:      cfg.Fetcher,
		concurrency:  cfg.Concurrency,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = 5 * time.Second
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e, nil
}

// Ready reports whether the engine can score candidates. Without a usable
// encoder the engine only passes candidates through unranked.
func (e *Engine) Ready() bool { return e.encoder != nil }

// Rank scores every candidate against photoVec and returns them in stable
// descending similarity order, ties broken by the marketplace's original
// order. Candidates whose fetch or encode fails are dropped. With no usable
// encoder, Rank degrades to Unranked.
func (e *Engine) Rank(ctx context.Context, photoVec []float32, candidates []marketplace.Listing) []Ranked {
	if !e.Ready() || len(photoVec) == 0 {
		return e.Unranked(candidates)
	}
	if len(candidates) == 0 {
		return []Ranked{}
	}

	scores := make([]*float32, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			sim, err := e.score(gctx, photoVec, c)
			if err != nil {
				// Per-candidate failures drop the candidate, nothing more.
				e.logger.Warn("candidate dropped", "listing", c.ExternalID, "url", c.ImageURL, "err", err)
				return nil
			}
			scores[i] = &sim
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Ranked, 0, len(candidates))
	for i, c := range candidates {
		if scores[i] == nil {
			continue
		}
		out = append(out, Ranked{Listing: c, Similarity: scores[i]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].Similarity != *out[j].Similarity {
			return *out[i].Similarity > *out[j].Similarity
		}
		return out[i].Listing.Rank < out[j].Listing.Rank
	})
	for i := range out {
		out[i].FinalRank = i + 1
	}
	return out
}

// Unranked returns the candidates in marketplace order with no similarity
// scores, the degraded mode used when the encoder is unavailable.
func (e *Engine) Unranked(candidates []marketplace.Listing) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Ranked{Listing: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Listing.Rank < out[j].Listing.Rank
	})
	for i := range out {
		out[i].FinalRank = i + 1
	}
	return out
}

func (e *Engine) score(ctx context.Context, photoVec []float32, c marketplace.Listing) (float32, error) {
	if c.ImageURL == "" {
		return 0, fmt.Errorf("listing has no image URL")
	}
	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	data, err := e.fetcher.Fetch(fctx, c.ImageURL)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	vec, err := e.encoder.Encode(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	return embedder.Dot(photoVec, vec), nil
}
