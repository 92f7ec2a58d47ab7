// Package compkit identifies a physical item from a single photograph and
// finds visually-matching comparable listings on an external marketplace,
// re-ranked by embedding-space similarity rather than text-match quality.
//
// The pipeline is strictly linear: vision fan-out, attribute fusion, query
// building, marketplace search, visual re-rank. Fan-out happens inside the
// vision gateway and the ranking engine; stages are joined, never streamed.
package compkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doujins-org/compkit/embedder"
	"github.com/doujins-org/compkit/fusion"
	"github.com/doujins-org/compkit/marketplace"
	"github.com/doujins-org/compkit/rank"
	"github.com/doujins-org/compkit/vision"
)

type ClientConfig struct {
	Gateway     *vision.Gateway
	Marketplace marketplace.Client
	Ranker      *rank.Engine

	// Encoder is the process-lifetime encoder handle, shared with the
	// ranking engine. Nil means the encoder failed to initialize at startup:
	// the pipeline still runs, but results stay in marketplace order and
	// Degraded is set.
	Encoder *embedder.Service

	// Fusion defaults to the deterministic voting strategy.
	Fusion fusion.Strategy

	// Defaults.
	SearchLimit int // default 20
	Logger      *slog.Logger
}

// Client is the identification-and-ranking pipeline.
type Client struct {
	gateway     *vision.Gateway
	marketplace marketplace.Client
	ranker      *rank.Engine
	encoder     *embedder.Service
	fusion      fusion.Strategy
	searchLimit int
	logger      *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("Gateway is required")
	}
	if cfg.Marketplace == nil {
		return nil, fmt.Errorf("Marketplace is required")
	}
	if cfg.Ranker == nil {
		return nil, fmt.Errorf("Ranker is required")
	}
	c := &Client{
		gateway:     cfg.Gateway,
		marketplace: cfg.Marketplace,
		ranker:      cfg.Ranker,
		encoder:     cfg.Encoder,
		fusion:      cfg.Fusion,
		searchLimit: cfg.SearchLimit,
		logger:      cfg.Logger,
	}
	if c.fusion == nil {
		c.fusion = fusion.NewVoting(fusion.VotingConfig{})
	}
	if c.searchLimit <= 0 {
		c.searchLimit = 20
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// Result is the complete pipeline output. It is always internally
// consistent: either IdentifyAndRank returns a fatal error, or every field
// here is populated for the mode the pipeline ran in.
type Result struct {
	Attributes fusion.AttributeSet
	Query      string
	Listings   []rank.Ranked

	// Degraded is set when visual re-ranking was skipped (encoder
	// unavailable or photo encoding failed) and Listings are in the
	// marketplace's original order without similarity scores.
	Degraded bool
}

// IdentifyAndRank runs the full pipeline for one photo. The only fatal error
// is vision.ErrAllProvidersUnavailable (besides context errors); provider,
// marketplace and per-candidate failures degrade the result instead.
func (c *Client) IdentifyAndRank(ctx context.Context, img vision.Image) (*Result, error) {
	results, err := c.gateway.Analyze(ctx, img)
	if err != nil {
		if errors.Is(err, vision.ErrAllProvidersUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("vision fan-out: %w", err)
	}

	attrs, err := c.fusion.Synthesize(ctx, results)
	if err != nil {
		return nil, fmt.Errorf("fuse attributes: %w", err)
	}

	out := &Result{Attributes: attrs, Listings: []rank.Ranked{}}
	out.Query = BuildQuery(attrs)
	if out.Query == "" {
		// Nothing identifiable: never search the marketplace with "".
		return out, nil
	}

	candidates, err := c.marketplace.Search(ctx, out.Query, c.searchLimit)
	if err != nil {
		c.logger.Warn("marketplace search failed", "query", out.Query, "err", err)
		return out, nil
	}
	if len(candidates) == 0 {
		return out, nil
	}

	photoVec, encErr := c.encodePhoto(ctx, img)
	if encErr != nil {
		c.logger.Warn("photo encoding unavailable, returning marketplace order", "err", encErr)
		out.Listings = c.ranker.Unranked(candidates)
		out.Degraded = true
		return out, nil
	}

	out.Listings = c.ranker.Rank(ctx, photoVec, candidates)
	return out, nil
}

func (c *Client) encodePhoto(ctx context.Context, img vision.Image) ([]float32, error) {
	if c.encoder == nil || !c.ranker.Ready() {
		return nil, fmt.Errorf("encoder unavailable")
	}
	return c.encoder.Encode(ctx, img.Bytes)
}
